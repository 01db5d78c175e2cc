// Package scoring drives the Prepare → Aggregate → Score → Finalize →
// Sleep cycle described in spec.md §4.6: aggregate the population's
// evaluation vectors, compute a normalized per-package score, and
// atomically swap it into the `current` search-index alias. It drives
// `searchindex` the same way the teacher's `db/couchdb.go`
// `CreateDatabaseFromURL`/`DeleteDatabaseFromURL` drive CouchDB's
// database-admin endpoints — list, create, delete — wrapped in the same
// typed-error idiom.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/npms-io/npms-analyzer/searchindex"
	"github.com/npms-io/npms-analyzer/store"
)

const (
	currentAlias = "current"
	newAlias     = "new"
)

// indexMapping is the schema every physical scores index is created with:
// a flat per-metric numeric score alongside the package name, enough for
// the search service to sort and filter on.
const indexMapping = `{
	"mappings": {
		"properties": {
			"name":        {"type": "keyword"},
			"score":       {"type": "float"},
			"quality":     {"type": "float"},
			"popularity":  {"type": "float"},
			"maintenance": {"type": "float"}
		}
	}
}`

// CycleConfig tunes one scoring cycle run.
type CycleConfig struct {
	CycleDelay  time.Duration
	RetryDelay  time.Duration
	PageSize    int
	Parallelism int
	Weights     Weights
}

func (c CycleConfig) cycleDelay() time.Duration {
	if c.CycleDelay > 0 {
		return c.CycleDelay
	}
	return 3 * time.Hour
}

func (c CycleConfig) retryDelay() time.Duration {
	if c.RetryDelay > 0 {
		return c.RetryDelay
	}
	return 10 * time.Minute
}

func (c CycleConfig) pageSize() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return 10000
}

func (c CycleConfig) parallelism() int {
	if c.Parallelism > 0 {
		return c.Parallelism
	}
	return 100
}

// Cycle runs the full state machine against a document store and search
// index, sleeping between successful runs and retrying sooner on failure.
type Cycle struct {
	Store       *store.Store
	SearchIndex *searchindex.Client
	Config      CycleConfig

	lastRun time.Time
}

// Run drives Prepare → Aggregate → Score → Finalize → Sleep repeatedly
// until ctx is cancelled, retrying after Config.RetryDelay (default 10
// minutes, shorter than the normal cycle) on any stage's failure per
// spec.md §4.6's "on failure: log and retry after 10 min".
func (c *Cycle) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := c.waitForScheduledStart(ctx); err != nil {
			return err
		}

		err := c.runOnce(ctx)
		if err != nil {
			select {
			case <-time.After(c.Config.retryDelay()):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		c.lastRun = time.Now()

		select {
		case <-time.After(c.Config.cycleDelay()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitForScheduledStart blocks the remainder of lastRun+cycleDelay if it's
// still in the future. lastRun is the time of the last successful cycle and
// is held in memory only, so the first cycle after process start runs
// immediately; the time of a run before a restart is not consulted.
func (c *Cycle) waitForScheduledStart(ctx context.Context) error {
	if c.lastRun.IsZero() {
		return nil
	}
	remaining := time.Until(c.lastRun.Add(c.Config.cycleDelay()))
	if remaining <= 0 {
		return nil
	}
	select {
	case <-time.After(remaining):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runOnce executes exactly one Prepare → Aggregate → Score → Finalize
// pass.
func (c *Cycle) runOnce(ctx context.Context) error {
	newIndex, err := c.prepare(ctx)
	if err != nil {
		return err
	}

	aggregation, count, err := c.aggregate(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		// spec.md §4.6: "If there are zero evaluations, skip scoring for this cycle."
		return nil
	}

	if err := c.score(ctx, newIndex, aggregation); err != nil {
		return err
	}

	return c.finalize(ctx, newIndex)
}

// prepare lists existing indices/aliases, creates a fresh timestamped
// index, points `new` at it, and garbage-collects indices no longer
// referenced by `current`.
func (c *Cycle) prepare(ctx context.Context) (string, error) {
	indices, err := c.SearchIndex.ListIndices(ctx)
	if err != nil {
		return "", err
	}
	aliases, err := c.SearchIndex.ListAliases(ctx)
	if err != nil {
		return "", err
	}

	newIndex := fmt.Sprintf("scores-%d", time.Now().UnixMilli())
	if err := c.SearchIndex.CreateIndex(ctx, newIndex, indexMapping); err != nil {
		return "", err
	}
	if err := c.SearchIndex.SetAlias(ctx, newAlias, newIndex); err != nil {
		return "", err
	}

	current := aliases[currentAlias]
	for _, index := range indices {
		if index != current && index != newIndex {
			_ = c.SearchIndex.DeleteIndex(ctx, index)
		}
	}
	return newIndex, nil
}

// finalize atomically removes `new` and repoints `current` at the
// freshly built index, then deletes whatever `current` previously
// pointed to.
func (c *Cycle) finalize(ctx context.Context, newIndex string) error {
	aliases, err := c.SearchIndex.ListAliases(ctx)
	if err != nil {
		return err
	}
	previous := aliases[currentAlias]

	var from []string
	if previous != "" {
		from = append(from, previous)
	}
	if err := c.SearchIndex.SwapAlias(ctx, currentAlias, from, newIndex); err != nil {
		return err
	}
	if err := c.SearchIndex.RemoveAlias(ctx, newAlias, newIndex); err != nil {
		return err
	}

	if previous != "" && previous != newIndex {
		_ = c.SearchIndex.DeleteIndex(ctx, previous)
	}
	return nil
}

// analysisKeyRange bounds the `_all_docs` scan to analysis documents only,
// using CouchDB's "￰" high-sentinel convention for an exclusive upper
// bound.
func analysisKeyRange() (string, string) {
	return "analysis!", "analysis!￰"
}
