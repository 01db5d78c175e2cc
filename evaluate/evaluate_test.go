package evaluate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/npms-io/npms-analyzer/collectors"
)

func TestQuasiLogNormal_MonotonicallyIncreasing(t *testing.T) {
	prev := -1.0
	for _, v := range []float64{0, 1, 10, 100, 1000, 10000, 1_000_000} {
		score := quasiLogNormal(v, 1000)
		assert.GreaterOrEqual(t, score, prev)
		prev = score
	}
}

func TestEvaluatorMonotonicity_StarsCountIncreasesPopularity(t *testing.T) {
	base := collectors.Collected{SourceHost: &collectors.SourceHost{Stars: 10}}
	more := collectors.Collected{SourceHost: &collectors.SourceHost{Stars: 1000}}

	baseEval := Evaluate(base)
	moreEval := Evaluate(more)

	assert.GreaterOrEqual(t, moreEval.Popularity.CommunityInterest, baseEval.Popularity.CommunityInterest)
}

func TestEvaluatorMonotonicity_DownloadsCountIncreasesPopularity(t *testing.T) {
	low := collectors.Collected{Registry: &collectors.Registry{Downloads: map[string]int{"last-month": 100}}}
	high := collectors.Collected{Registry: &collectors.Registry{Downloads: map[string]int{"last-month": 100000}}}

	assert.GreaterOrEqual(t, Evaluate(high).Popularity.DownloadsCount, Evaluate(low).Popularity.DownloadsCount)
}

func TestEvaluatorMonotonicity_CommitsFrequencyIncreasesMaintenance(t *testing.T) {
	quiet := collectors.Collected{SourceHost: &collectors.SourceHost{Commits: map[string]int{"last-quarter": 1}}}
	active := collectors.Collected{SourceHost: &collectors.SourceHost{Commits: map[string]int{"last-quarter": 200}}}

	assert.GreaterOrEqual(t, Evaluate(active).Maintenance.CommitsFrequency, Evaluate(quiet).Maintenance.CommitsFrequency)
}

func TestEvaluate_NilCollectorsDegradeWithoutPanicking(t *testing.T) {
	assert.NotPanics(t, func() {
		eval := Evaluate(collectors.Collected{})
		assert.Equal(t, 0.0, eval.Quality.Tests)
		assert.Equal(t, 0.0, eval.Popularity.DownloadsCount)
	})
}

func TestHealth_VulnerabilitiesOverridesLinterAdoption(t *testing.T) {
	clean := collectors.Collected{SourceCode: &collectors.SourceCode{Linters: []string{"eslint"}, HasVulnerabilities: false}}
	vulnerable := collectors.Collected{SourceCode: &collectors.SourceCode{Linters: []string{"eslint"}, HasVulnerabilities: true}}

	assert.Greater(t, Evaluate(clean).Quality.Health, Evaluate(vulnerable).Quality.Health)
}

func TestOpenIssues_NoIssueTrackerIsNeutral(t *testing.T) {
	eval := Evaluate(collectors.Collected{SourceHost: &collectors.SourceHost{}})
	assert.Equal(t, 0.5, eval.Maintenance.OpenIssues)
}
