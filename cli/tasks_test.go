package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalysisKey_NamespacesTheDocumentID(t *testing.T) {
	assert.Equal(t, "analysis!lodash", analysisKey("lodash"))
	assert.Equal(t, "analysis!@scope/name", analysisKey("@scope/name"))
}

func TestAnalysisKeyRange_BoundsTheAnalysisPrefix(t *testing.T) {
	start, end := analysisKeyRange()
	assert.Equal(t, "analysis!", start)
	assert.True(t, start < "analysis!lodash")
	assert.True(t, "analysis!lodash" < end)
}

func TestRenameHealthField_RenamesInPlaceWhenPresent(t *testing.T) {
	doc := map[string]interface{}{
		"evaluation": map[string]interface{}{
			"quality": map[string]interface{}{
				"dependenciesHealth": 0.7,
				"carefulness":        0.9,
			},
		},
	}
	renameHealthField(doc)

	quality := doc["evaluation"].(map[string]interface{})["quality"].(map[string]interface{})
	assert.Equal(t, 0.7, quality["health"])
	assert.Equal(t, 0.9, quality["carefulness"])
	_, ok := quality["dependenciesHealth"]
	assert.False(t, ok)
}

func TestRenameHealthField_NoOpWhenFieldAbsent(t *testing.T) {
	doc := map[string]interface{}{
		"evaluation": map[string]interface{}{
			"quality": map[string]interface{}{"carefulness": 0.9},
		},
	}
	renameHealthField(doc)

	quality := doc["evaluation"].(map[string]interface{})["quality"].(map[string]interface{})
	assert.Equal(t, 0.9, quality["carefulness"])
	assert.Len(t, quality, 1)
}

func TestRenameHealthField_NoOpWhenEvaluationMissing(t *testing.T) {
	doc := map[string]interface{}{"name": "lodash"}
	assert.NotPanics(t, func() { renameHealthField(doc) })
}
