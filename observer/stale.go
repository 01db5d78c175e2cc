package observer

import (
	"context"
	"time"

	"github.com/npms-io/npms-analyzer/store"
	"github.com/npms-io/npms-analyzer/worker"
)

// staleType is one of the two `packages-stale` view partitions spec.md
// §4.4 names.
type staleType string

const (
	staleTypeFailed staleType = "failed"
	staleTypeNormal staleType = "normal"
)

// StaleConfig configures one Stale Observer tick cycle.
type StaleConfig struct {
	Concurrency     int
	CheckInterval   time.Duration
	PageSize        int
	FailedThreshold time.Duration
	NormalThreshold time.Duration
}

func (c StaleConfig) concurrency() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return 2
}

func (c StaleConfig) checkInterval() time.Duration {
	if c.CheckInterval > 0 {
		return c.CheckInterval
	}
	return 5 * time.Minute
}

func (c StaleConfig) pageSize() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return 500
}

func (c StaleConfig) failedThreshold() time.Duration {
	if c.FailedThreshold > 0 {
		return c.FailedThreshold
	}
	return 12 * time.Hour
}

func (c StaleConfig) normalThreshold() time.Duration {
	if c.NormalThreshold > 0 {
		return c.NormalThreshold
	}
	return 25 * 24 * time.Hour
}

// Stale runs the periodic view scan over `packages-stale` described in
// spec.md §4.4: failed packages first, then normal, each paginated,
// never overlapping itself — a tick is skipped entirely if the previous
// one hasn't finished.
type Stale struct {
	Store  *store.Store
	OnPkg  OnPackage
	Config StaleConfig
}

// Run ticks at Config.CheckInterval until ctx is cancelled, running one
// full failed-then-normal scan per tick and waiting for it to complete
// before scheduling the next.
func (s *Stale) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Config.checkInterval())
	defer ticker.Stop()

	if err := s.tick(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// tick runs one failed-then-normal full scan.
func (s *Stale) tick(ctx context.Context) error {
	if err := s.scan(ctx, staleTypeFailed, s.Config.failedThreshold()); err != nil {
		return err
	}
	return s.scan(ctx, staleTypeNormal, s.Config.normalThreshold())
}

// scan paginates `packages-stale` for one type, keyed
// [type, last-evaluated-ms, name], with endkey [type, now-threshold, "￰"]
// per spec.md §4.4, processing and bulk-patching checkpoints one page at a
// time.
func (s *Stale) scan(ctx context.Context, typ staleType, threshold time.Duration) error {
	now := time.Now()
	startKey := []interface{}{string(typ)}
	endKey := []interface{}{string(typ), now.Add(-threshold).UnixMilli(), "￰"}

	for {
		rows, nextKey, done, err := s.Store.QueryViewPage(ctx, "packages", "packages-stale", startKey, endKey, s.Config.pageSize())
		if err != nil {
			return err
		}

		if err := s.processPage(ctx, typ, threshold, rows); err != nil {
			return err
		}

		if done {
			return nil
		}
		startKey = nextKey
	}
}

// processPage loads each row's observer checkpoint, keeps the names that
// are actually due, fans onPackage out across them, and bulk-patches the
// checkpoints of the ones that succeeded.
func (s *Stale) processPage(ctx context.Context, typ staleType, threshold time.Duration, rows []store.ViewRow) error {
	type candidate struct {
		name       string
		checkpoint store.PackageCheckpoint
		rev        string
	}

	now := time.Now()
	var due []candidate
	for _, row := range rows {
		name, _ := row.Value.(string)
		if name == "" {
			name = row.ID
		}
		var checkpoint store.PackageCheckpoint
		rev, err := s.Store.Get(ctx, checkpointKey(name), &checkpoint)
		if err != nil {
			checkpoint = store.PackageCheckpoint{}
			rev = ""
		}
		if checkpoint.Stale.NotifiedAt.IsZero() || now.Sub(checkpoint.Stale.NotifiedAt) > threshold {
			due = append(due, candidate{name: name, checkpoint: checkpoint, rev: rev})
		}
	}
	if len(due) == 0 {
		return nil
	}

	pool := worker.New(s.Config.concurrency())
	succeeded := make([]bool, len(due))
	tasks := make([]worker.Task, len(due))
	for i, c := range due {
		i, c := i, c
		tasks[i] = func(ctx context.Context) error {
			if err := s.OnPkg(ctx, c.name); err != nil {
				return nil
			}
			succeeded[i] = true
			return nil
		}
	}
	pool.Run(ctx, tasks)

	var patches []interface{}
	for i, c := range due {
		if !succeeded[i] {
			continue
		}
		c.checkpoint.ID = checkpointKey(c.name)
		c.checkpoint.Rev = c.rev
		c.checkpoint.Stale.NotifiedAt = now
		patches = append(patches, c.checkpoint)
	}
	if len(patches) > 0 {
		_, err := s.Store.BulkPatch(ctx, patches)
		return err
	}
	return nil
}
