package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_NilIsNil(t *testing.T) {
	assert.NoError(t, classify("Get", nil))
}

func TestClassify_ErrorWithoutHTTPStatusIsTransient(t *testing.T) {
	// kivik.HTTPStatus returns 0 for errors that don't carry an HTTP status,
	// e.g. connection-level failures, which we treat as retryable.
	err := classify("Get", errors.New("connection refused"))
	assert.Error(t, err)
}

func TestErrNotFoundAndConflict_AreDistinctSentinels(t *testing.T) {
	assert.NotEqual(t, ErrNotFound, ErrConflict)
	assert.False(t, errors.Is(ErrNotFound, ErrConflict))
}
