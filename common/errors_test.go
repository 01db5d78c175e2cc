package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_NilCausePassesThrough(t *testing.T) {
	assert.NoError(t, Classify(KindTransient, "store", "should not appear", nil))
}

func TestClassify_WrapsAndUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Classify(KindTransient, "store", "get document failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindTransient, KindOf(err))
	assert.True(t, IsTransient(err))
	assert.False(t, IsFatal(err))
}

func TestKindOf_UnclassifiedDefaultsToUnrecoverable(t *testing.T) {
	err := errors.New("some random error")
	assert.Equal(t, KindUnrecoverable, KindOf(err))
	assert.False(t, IsTransient(err))
}

func TestClassified_Unrecoverable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindTransient, false},
		{KindUnavailable, false},
		{KindUnrecoverable, true},
		{KindFatal, true},
	}

	for _, tt := range tests {
		c := &Classified{Kind: tt.kind, Origin: "test", Reason: "r", Cause: errors.New("x")}
		assert.Equal(t, tt.want, c.Unrecoverable(), "kind %s", tt.kind)
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "transient", KindTransient.String())
	assert.Equal(t, "unavailable", KindUnavailable.String())
	assert.Equal(t, "unrecoverable", KindUnrecoverable.String())
	assert.Equal(t, "fatal", KindFatal.String())
}
