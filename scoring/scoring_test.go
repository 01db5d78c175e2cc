package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/npms-io/npms-analyzer/store"
)

func TestSummarize_ComputesMinMaxMeanMedianTruncatedMean(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1) // 1..100
	}
	stats := summarize(values)

	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 100.0, stats.Max)
	assert.Equal(t, 50.5, stats.Mean)
	assert.Equal(t, 50.5, stats.Median)
	assert.Less(t, stats.TruncatedMean, 50.6)
	assert.Greater(t, stats.TruncatedMean, 50.4)
}

func TestMedian_EvenAndOddLengths(t *testing.T) {
	assert.Equal(t, 2.0, median([]float64{1, 2, 3}))
	assert.Equal(t, 2.5, median([]float64{1, 2, 3, 4}))
}

func TestNormalize_ClampsOutOfRangeToBoundary(t *testing.T) {
	stats := store.MetricStats{Min: 0, Max: 10}
	assert.Equal(t, 0.5, normalize(5, stats))
	assert.Equal(t, 0.0, normalize(-5, stats))
	assert.Equal(t, 1.0, normalize(50, stats))
}

func TestNormalize_DegenerateRangeReturnsRawValue(t *testing.T) {
	stats := store.MetricStats{Min: 5, Max: 5}
	assert.Equal(t, 5.0, normalize(5, stats))
}

func TestFlattenMetrics_ReadsNestedEvaluationFields(t *testing.T) {
	evaluation := map[string]interface{}{
		"quality": map[string]interface{}{"carefulness": 0.8, "tests": 0.5},
	}
	values := flattenMetrics(evaluation)
	assert.Equal(t, 0.8, values["quality.carefulness"])
	assert.Equal(t, 0.5, values["quality.tests"])
	_, ok := values["quality.health"]
	assert.False(t, ok)
}

func TestComputeScore_WeightsGroupsTogether(t *testing.T) {
	evaluation := map[string]interface{}{
		"quality":     map[string]interface{}{"carefulness": 1.0, "tests": 1.0, "health": 1.0, "branding": 1.0},
		"popularity":  map[string]interface{}{"communityInterest": 0.0, "downloadsCount": 0.0, "downloadsAcceleration": 0.0, "dependentsCount": 0.0},
		"maintenance": map[string]interface{}{"releasesFrequency": 0.5, "commitsFrequency": 0.5, "openIssues": 0.5, "issuesDistribution": 0.5},
	}
	aggregation := &store.Aggregation{Metrics: map[string]store.MetricStats{
		"quality.carefulness": {Min: 0, Max: 1}, "quality.tests": {Min: 0, Max: 1},
		"quality.health": {Min: 0, Max: 1}, "quality.branding": {Min: 0, Max: 1},
		"popularity.communityInterest": {Min: 0, Max: 1}, "popularity.downloadsCount": {Min: 0, Max: 1},
		"popularity.downloadsAcceleration": {Min: 0, Max: 1}, "popularity.dependentsCount": {Min: 0, Max: 1},
		"maintenance.releasesFrequency": {Min: 0, Max: 1}, "maintenance.commitsFrequency": {Min: 0, Max: 1},
		"maintenance.openIssues": {Min: 0, Max: 1}, "maintenance.issuesDistribution": {Min: 0, Max: 1},
	}}

	ps := computeScore("pkg", evaluation, aggregation, DefaultWeights)
	assert.Equal(t, 1.0, ps.Quality)
	assert.Equal(t, 0.0, ps.Popularity)
	assert.Equal(t, 0.5, ps.Maintenance)
	assert.InDelta(t, (1.0*DefaultWeights.Quality+0.5*DefaultWeights.Maintenance)/
		(DefaultWeights.Quality+DefaultWeights.Popularity+DefaultWeights.Maintenance), ps.Score, 0.0001)
}

func TestCycleConfig_DefaultsWeightsWhenZeroed(t *testing.T) {
	c := CycleConfig{}
	assert.Equal(t, DefaultWeights, c.weights())

	c.Weights = Weights{Quality: 1, Popularity: 1, Maintenance: 1}
	assert.Equal(t, Weights{Quality: 1, Popularity: 1, Maintenance: 1}, c.weights())
}
