package scoring

import (
	"context"
	"encoding/json"

	"github.com/npms-io/npms-analyzer/store"
	"github.com/npms-io/npms-analyzer/worker"
)

// Weights controls how the three evaluation sub-vectors, and the metrics
// within each, combine into a single final score. Defaults favor
// popularity slightly over maintenance and quality, matching the
// documented intuition that a widely-used package is strong evidence of
// real-world fitness even when its own quality markers are middling — an
// Open Question decision recorded since nothing in the available corpus
// pins down exact weight values.
type Weights struct {
	Quality     float64
	Popularity  float64
	Maintenance float64
}

// DefaultWeights is applied whenever a CycleConfig leaves Weights zeroed.
var DefaultWeights = Weights{Quality: 1.95, Popularity: 3.3, Maintenance: 2.225}

func (c CycleConfig) weights() Weights {
	if c.Weights == (Weights{}) {
		return DefaultWeights
	}
	return c.Weights
}

type packageScore struct {
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Quality     float64 `json:"quality"`
	Popularity  float64 `json:"popularity"`
	Maintenance float64 `json:"maintenance"`
}

// score iterates every analysis document a second time, computes its
// score against the just-persisted aggregation, and indexes the result
// into newIndex.
func (c *Cycle) score(ctx context.Context, newIndex string, aggregation *store.Aggregation) error {
	startKey, endKey := analysisKeyRange()
	page, cont, err := c.Store.IterateByKeyRange(ctx, startKey, endKey, c.Config.pageSize())
	if err != nil {
		return err
	}

	weights := c.Config.weights()
	for {
		pool := worker.New(c.Config.parallelism())
		tasks := make([]worker.Task, len(page.Rows))
		for i, row := range page.Rows {
			row := row
			tasks[i] = func(ctx context.Context) error {
				var decoded struct {
					Name       string                 `json:"name"`
					Evaluation map[string]interface{} `json:"evaluation"`
				}
				if err := json.Unmarshal(row.Doc, &decoded); err != nil || decoded.Evaluation == nil {
					return nil
				}
				ps := computeScore(decoded.Name, decoded.Evaluation, aggregation, weights)
				return c.SearchIndex.IndexDocument(ctx, newIndex, ps.Name, ps)
			}
		}
		pool.Run(ctx, tasks)

		if page.Done {
			break
		}
		page, err = cont(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

// computeScore normalizes every metric against the aggregation's min/max
// range, averages each sub-vector's metrics evenly, then combines the
// three sub-vector scores with weights into a single overall score.
func computeScore(name string, evaluation map[string]interface{}, aggregation *store.Aggregation, weights Weights) packageScore {
	quality := groupScore(evaluation, aggregation, "quality", []string{"carefulness", "tests", "health", "branding"})
	popularity := groupScore(evaluation, aggregation, "popularity", []string{"communityInterest", "downloadsCount", "downloadsAcceleration", "dependentsCount"})
	maintenance := groupScore(evaluation, aggregation, "maintenance", []string{"releasesFrequency", "commitsFrequency", "openIssues", "issuesDistribution"})

	totalWeight := weights.Quality + weights.Popularity + weights.Maintenance
	overall := 0.0
	if totalWeight > 0 {
		overall = (quality*weights.Quality + popularity*weights.Popularity + maintenance*weights.Maintenance) / totalWeight
	}

	return packageScore{
		Name:        name,
		Score:       overall,
		Quality:     quality,
		Popularity:  popularity,
		Maintenance: maintenance,
	}
}

// groupScore normalizes each named field within evaluation[group] against
// the aggregation's per-metric min/max, then averages them evenly.
func groupScore(evaluation map[string]interface{}, aggregation *store.Aggregation, group string, fields []string) float64 {
	sub, _ := evaluation[group].(map[string]interface{})
	if sub == nil {
		return 0
	}

	sum := 0.0
	n := 0
	for _, field := range fields {
		v, ok := sub[field].(float64)
		if !ok {
			continue
		}
		sum += normalize(v, aggregation.Metrics[group+"."+field])
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// normalize rescales value into [0, 1] against stats' min/max range,
// clamping out-of-range inputs (a metric reading past the aggregation's
// observed max, or below its min, at scoring time) to the boundary.
func normalize(value float64, stats store.MetricStats) float64 {
	if stats.Max <= stats.Min {
		return value
	}
	n := (value - stats.Min) / (stats.Max - stats.Min)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}
