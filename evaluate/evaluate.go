// Package evaluate turns the signals collectors gathers into the three
// numeric sub-vectors the scoring cycle later aggregates against the
// population: quality, popularity, and maintenance. Every function here is
// pure — same collected input, same output, no I/O — matching spec.md
// §4.5 step 4's "pure function of collected -> sub-vectors" contract.
package evaluate

import (
	"math"

	"github.com/npms-io/npms-analyzer/collectors"
)

// Evaluation is the full evaluation vector persisted alongside a package's
// collected signals.
type Evaluation struct {
	Quality     Quality     `json:"quality"`
	Popularity  Popularity  `json:"popularity"`
	Maintenance Maintenance `json:"maintenance"`
}

// Evaluate computes the evaluation vector from one package's collected
// signals. A nil sub-collector result degrades most of its dependent
// metrics to zero rather than panicking; openIssues, issuesDistribution and
// downloadsAcceleration score a neutral 0.5 instead — a package with, say,
// no reachable source host still gets a complete, if poorer, vector.
func Evaluate(collected collectors.Collected) Evaluation {
	return Evaluation{
		Quality:     evaluateQuality(collected),
		Popularity:  evaluatePopularity(collected),
		Maintenance: evaluateMaintenance(collected),
	}
}

// quasiLogNormal maps a non-negative value onto [0, 1] on a logarithmic
// scale: small increases near zero move the score more than the same
// absolute increase far from zero, which keeps a handful of extra GitHub
// stars from swinging a score the way they would under a linear scale.
// cutoff is the value mapped to (approximately) 1; the curve keeps
// climbing slowly past it rather than clamping hard, so the function
// remains strictly monotonic for every value ≥ 0.
func quasiLogNormal(value, cutoff float64) float64 {
	if value <= 0 {
		return 0
	}
	if cutoff <= 0 {
		cutoff = 1
	}
	score := math.Log1p(value) / math.Log1p(cutoff)
	if score > 1 {
		// Past the cutoff the curve keeps rising, just far more slowly, so
		// monotonicity holds without an artificial ceiling.
		score = 1 + math.Log1p(score-1)*0.01
	}
	return score
}

// weightedAverage returns the weighted mean of values, or 0 when every
// weight is zero (so an empty vector scores 0, not NaN).
func weightedAverage(values []float64, weights []float64) float64 {
	var sum, totalWeight float64
	for i, v := range values {
		sum += v * weights[i]
		totalWeight += weights[i]
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / totalWeight
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
