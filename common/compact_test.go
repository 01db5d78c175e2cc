package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompact_DropsEmptyLeaves(t *testing.T) {
	in := map[string]interface{}{
		"name":        "left-pad",
		"description": "",
		"keywords":    []interface{}{},
		"maintainers": []interface{}{"alice"},
		"links":       map[string]interface{}{"npm": "", "repository": "https://example.com"},
		"stars":       float64(0),
		"deprecated":  false,
	}

	got := Compact(in).(map[string]interface{})

	assert.Equal(t, "left-pad", got["name"])
	assert.Equal(t, []interface{}{"alice"}, got["maintainers"])
	assert.Equal(t, map[string]interface{}{"repository": "https://example.com"}, got["links"])
	assert.Equal(t, float64(0), got["stars"])
	assert.Equal(t, false, got["deprecated"])

	_, hasDescription := got["description"]
	_, hasKeywords := got["keywords"]
	assert.False(t, hasDescription)
	assert.False(t, hasKeywords)
}

func TestCompact_FullyEmptyValueReturnsNil(t *testing.T) {
	assert.Nil(t, Compact(map[string]interface{}{"a": "", "b": []interface{}{}}))
	assert.Nil(t, Compact([]interface{}{"", nil}))
	assert.Nil(t, Compact(""))
	assert.Nil(t, Compact(nil))
}
