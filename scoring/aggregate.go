package scoring

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/npms-io/npms-analyzer/store"
	"github.com/npms-io/npms-analyzer/worker"
)

// aggregationKey is the singleton document spec.md §3 calls "Aggregation
// doc", persisted fresh every cycle.
const aggregationKey = "scoring!aggregation"

// metricNames lists every numeric evaluation field the aggregation
// accumulates statistics over, flattened from evaluate.Evaluation's three
// sub-vectors.
var metricNames = []string{
	"quality.carefulness", "quality.tests", "quality.health", "quality.branding",
	"popularity.communityInterest", "popularity.downloadsCount", "popularity.downloadsAcceleration", "popularity.dependentsCount",
	"maintenance.releasesFrequency", "maintenance.commitsFrequency", "maintenance.openIssues", "maintenance.issuesDistribution",
}

type analysisRow struct {
	Evaluation map[string]interface{} `json:"evaluation"`
}

// aggregate iterates every analysis document, accumulating a sorted array
// per metric (negatives filtered, per spec.md §4.6), computes min/max/
// mean/median/truncated-mean (1% tail trim) for each, and persists the
// result. It returns the document count seen so the caller can skip
// scoring entirely when it's zero.
//
// Sequential pages are fetched one at a time — store.IterateByKeyRange's
// cursor depends on the previous page's last key, so true concurrent page
// fetches aren't available from this adapter — but each page's rows are
// decoded and folded into the accumulators with up to Config.Parallelism
// goroutines, which is where spec.md §5's "100 parallel" budget is spent.
func (c *Cycle) aggregate(ctx context.Context) (*store.Aggregation, int, error) {
	startKey, endKey := analysisKeyRange()
	page, cont, err := c.Store.IterateByKeyRange(ctx, startKey, endKey, c.Config.pageSize())
	if err != nil {
		return nil, 0, err
	}

	accumulators := make(map[string][]float64, len(metricNames))
	var mu sync.Mutex
	count := 0

	for {
		pool := worker.New(c.Config.parallelism())
		tasks := make([]worker.Task, len(page.Rows))
		for i, row := range page.Rows {
			row := row
			tasks[i] = func(ctx context.Context) error {
				var decoded analysisRow
				if err := json.Unmarshal(row.Doc, &decoded); err != nil || decoded.Evaluation == nil {
					return nil
				}
				values := flattenMetrics(decoded.Evaluation)
				mu.Lock()
				count++
				for metric, v := range values {
					if v < 0 {
						continue
					}
					accumulators[metric] = append(accumulators[metric], v)
				}
				mu.Unlock()
				return nil
			}
		}
		pool.Run(ctx, tasks)

		if page.Done {
			break
		}
		page, err = cont(ctx)
		if err != nil {
			return nil, 0, err
		}
	}

	if count == 0 {
		return nil, 0, nil
	}

	metrics := make(map[string]store.MetricStats, len(accumulators))
	for metric, values := range accumulators {
		metrics[metric] = summarize(values)
	}

	agg := &store.Aggregation{ID: aggregationKey, Metrics: metrics}
	_, err = c.Store.PutWithRetry(ctx, aggregationKey, func(rev string) (interface{}, error) {
		agg.Rev = rev
		return agg, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return agg, count, nil
}

// flattenMetrics reads the dotted metricNames paths out of a nested
// evaluation map, e.g. "quality.carefulness" → evaluation["quality"]["carefulness"].
func flattenMetrics(evaluation map[string]interface{}) map[string]float64 {
	out := make(map[string]float64, len(metricNames))
	for _, name := range metricNames {
		group, field, _ := splitMetricName(name)
		sub, _ := evaluation[group].(map[string]interface{})
		if sub == nil {
			continue
		}
		if v, ok := sub[field].(float64); ok {
			out[name] = v
		}
	}
	return out
}

func splitMetricName(name string) (group, field string, ok bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i], name[i+1:], true
		}
	}
	return "", "", false
}

// summarize computes min/max/mean/median/truncated-mean (1% of each tail
// dropped) over an unsorted sample.
func summarize(values []float64) store.MetricStats {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	stats := store.MetricStats{
		Min:    sorted[0],
		Max:    sorted[n-1],
		Median: median(sorted),
	}

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	stats.Mean = sum / float64(n)

	trim := n / 100 // 1% of each tail
	trimmed := sorted[trim : n-trim]
	if len(trimmed) == 0 {
		trimmed = sorted
	}
	tsum := 0.0
	for _, v := range trimmed {
		tsum += v
	}
	stats.TruncatedMean = tsum / float64(len(trimmed))

	return stats
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
