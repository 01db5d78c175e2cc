package bootstrap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/npms-io/npms-analyzer/common"
)

func TestClassifyDial_NilIsNil(t *testing.T) {
	assert.NoError(t, classifyDial(nil))
}

func TestClassifyDial_AlwaysTransient(t *testing.T) {
	// Even an error an adapter itself classified as Fatal (e.g. the
	// requested database doesn't exist yet) is downgraded to Transient here:
	// at startup that's indistinguishable from "the dependency isn't ready".
	fatal := common.Classify(common.KindFatal, "store", "database does not exist", errors.New("not found"))
	assert.Equal(t, common.KindTransient, common.KindOf(classifyDial(fatal)))
}
