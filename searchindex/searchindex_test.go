package searchindex

import (
	"errors"
	"testing"

	elastic "github.com/olivere/elastic/v7"
	"github.com/stretchr/testify/assert"
)

func TestWrap_NilIsNil(t *testing.T) {
	assert.NoError(t, wrap("list indices", nil))
}

func TestWrap_PreservesElasticStatusAndType(t *testing.T) {
	underlying := &elastic.Error{
		Status:  409,
		Details: &elastic.ErrorDetails{Type: "version_conflict_engine_exception"},
	}

	err := wrap("index document left-pad", underlying)

	se, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *searchindex.Error, got %T", err)
	}
	assert.Equal(t, 409, se.StatusCode)
	assert.Equal(t, "version_conflict_engine_exception", se.ErrorType)
	assert.ErrorIs(t, se, underlying)
}

func TestWrap_UnrecognizedErrorStillWraps(t *testing.T) {
	err := wrap("connect", errors.New("dial tcp: connection refused"))
	se, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *searchindex.Error, got %T", err)
	}
	assert.Equal(t, 0, se.StatusCode)
}
