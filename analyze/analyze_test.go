package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npms-io/npms-analyzer/collectors"
	"github.com/npms-io/npms-analyzer/evaluate"
)

func TestPackageJSONFromData_ExtractsLatestVersionManifest(t *testing.T) {
	doc := map[string]interface{}{
		"dist-tags": map[string]interface{}{"latest": "2.0.0"},
		"versions": map[string]interface{}{
			"1.0.0": map[string]interface{}{"name": "pad", "version": "1.0.0"},
			"2.0.0": map[string]interface{}{"name": "pad", "version": "2.0.0"},
		},
	}

	manifest, err := packageJSONFromData(doc)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", manifest["version"])
}

func TestPackageJSONFromData_MissingDistTagsIsUnrecoverable(t *testing.T) {
	_, err := packageJSONFromData(map[string]interface{}{})
	assert.Error(t, err)
}

func TestPackageJSONFromData_LatestVersionMissingFromVersionsMap(t *testing.T) {
	doc := map[string]interface{}{
		"dist-tags": map[string]interface{}{"latest": "3.0.0"},
		"versions":  map[string]interface{}{"1.0.0": map[string]interface{}{}},
	}

	_, err := packageJSONFromData(doc)
	assert.Error(t, err)
}

func TestSanitizeDirName_ReplacesPathSeparatorsInScopedNames(t *testing.T) {
	assert.Equal(t, "@npm_cli", sanitizeDirName("@npm/cli"))
	assert.Equal(t, "lodash", sanitizeDirName("lodash"))
}

func TestAnalysisKey_NamespacesTheDocumentID(t *testing.T) {
	assert.Equal(t, "analysis!lodash", analysisKey("lodash"))
}

func TestToMaps_CompactsEmptyLeavesBeforePersistence(t *testing.T) {
	collected := collectors.Collected{
		Metadata: &collectors.Metadata{
			License: "MIT",
			Links:   map[string]string{"homepage": ""},
		},
	}

	collectedMap, _ := toMaps(collected, evaluate.Evaluation{})

	metadata, ok := collectedMap["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "MIT", metadata["license"])
	assert.NotContains(t, metadata, "links")
}
