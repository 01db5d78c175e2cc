package registrydata

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/npms-io/npms-analyzer/common"
)

func TestClassify_NilIsNil(t *testing.T) {
	assert.NoError(t, classify("Get", nil))
}

func TestClassify_ErrorWithoutHTTPStatusIsTransient(t *testing.T) {
	// kivik.HTTPStatus returns 0 for errors that don't carry an HTTP status,
	// e.g. connection-level failures, which we treat as retryable.
	err := classify("Get", errors.New("connection refused"))
	assert.Equal(t, common.KindTransient, common.KindOf(err))
}
