// Package observer runs the two long-lived watchers that feed packages
// into the analysis pipeline: the Realtime Observer, following the
// upstream registry's change feed, and the Stale Observer, periodically
// re-checking packages whose last analysis has aged past a threshold.
// Both generalize the teacher's change-tracking idioms — the continuous
// changes follower and the ping-interval timer pattern used elsewhere in
// the teacher's coordinator code — onto spec.md §4.3/§4.4's state
// machines.
package observer

import (
	"context"
	"sort"
	"time"

	"github.com/npms-io/npms-analyzer/common"
	"github.com/npms-io/npms-analyzer/registrydata"
	"github.com/npms-io/npms-analyzer/store"
	"github.com/npms-io/npms-analyzer/worker"
)

// OnPackage is the handler invoked for each package the observers decide
// needs (re-)analysis. It returns an error only for failures that should
// prevent the checkpoint from advancing; analyze.Pipeline.Analyze already
// swallows recoverable failures into a persisted degraded document, so
// OnPackage is expected to return nil even when analysis itself failed,
// unless the failure was so severe the checkpoint shouldn't move past it.
type OnPackage func(ctx context.Context, name string) error

// realtimeCheckpointKey is the singleton document spec.md §3 names
// "obs!realtime!last_followed_seq".
const realtimeCheckpointKey = "obs!realtime!last_followed_seq"

// RealtimeConfig configures one Realtime Observer run.
type RealtimeConfig struct {
	Concurrency int
	DefaultSeq  string // "now", or a specific upstream sequence, used only when no checkpoint exists.
	IdleFlush   time.Duration
}

// Realtime runs the change-feed-following state machine described in
// spec.md §4.3: FetchCheckpoint → Follow → (Buffer→Flush)* → (Error or
// ctx cancellation), restarting with a delay from the last persisted
// sequence on any uncaught failure. It blocks until ctx is cancelled.
type Realtime struct {
	Registry *registrydata.Client
	Store    *store.Store
	OnPkg    OnPackage
	Config   RealtimeConfig
}

func (r *Realtime) idleFlush() time.Duration {
	if r.Config.IdleFlush > 0 {
		return r.Config.IdleFlush
	}
	return 2500 * time.Millisecond
}

func (r *Realtime) concurrency() int {
	if r.Config.Concurrency > 0 {
		return r.Config.Concurrency
	}
	return 2
}

// Run drives the FetchCheckpoint → Follow → Buffer/Flush cycle, restarting
// with a 5s delay on any error the follower itself can't recover from,
// until ctx is cancelled.
func (r *Realtime) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		seq, err := r.fetchCheckpoint(ctx)
		if err == nil {
			err = r.followOnce(ctx, seq)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
	}
}

// fetchCheckpoint loads the last persisted sequence, or falls back to
// Config.DefaultSeq (spec.md §4.3: "defaultSeq of the special value 'now'
// means start from the current registry tip") when no checkpoint exists.
func (r *Realtime) fetchCheckpoint(ctx context.Context) (string, error) {
	var checkpoint store.RealtimeCheckpoint
	_, err := r.Store.Get(ctx, realtimeCheckpointKey, &checkpoint)
	if err == nil {
		return checkpoint.Seq, nil
	}
	if common.KindOf(err) == common.KindUnrecoverable {
		return r.Config.DefaultSeq, nil
	}
	return "", err
}

// followOnce opens a single changes feed and drives it until it ends,
// errors, or ctx is cancelled, buffering and flushing as it goes.
func (r *Realtime) followOnce(ctx context.Context, since string) error {
	follower, err := r.Registry.Follow(ctx, since)
	if err != nil {
		return err
	}
	defer follower.Close()

	var buffer []registrydata.Change
	idle := time.NewTimer(r.idleFlush())
	defer idle.Stop()

	changes := make(chan registrydata.Change)
	done := make(chan struct{})
	go func() {
		defer close(changes)
		for {
			change, ok := follower.Next()
			if !ok {
				return
			}
			select {
			case changes <- change:
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	threshold := r.concurrency() * 10
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case change, ok := <-changes:
			if !ok {
				if err := follower.Err(); err != nil {
					return err
				}
				return nil
			}
			if len(change.Name) > 0 && change.Name[0] == '_' {
				continue // design document, not a package.
			}
			buffer = append(buffer, change)
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(r.idleFlush())

			if len(buffer) >= threshold {
				if err := r.flush(ctx, buffer); err != nil {
					return err
				}
				buffer = nil
			}

		case <-idle.C:
			if len(buffer) > 0 {
				if err := r.flush(ctx, buffer); err != nil {
					return err
				}
				buffer = nil
			}
			idle.Reset(r.idleFlush())
		}
	}
}

// flush runs the seven-step batch procedure spec.md §4.3 describes:
// dedup, a bulk modified-time check against stored checkpoints, bounded
// onPackage fan-out, and a checkpoint bulk-patch plus sequence persist.
func (r *Realtime) flush(ctx context.Context, batch []registrydata.Change) error {
	names := dedupNames(batch)

	toProcess := make([]string, 0, len(names))
	for _, name := range names {
		modified, err := r.upstreamModifiedAt(ctx, name)
		if err != nil {
			continue // unavailable package doc; skip rather than fail the whole flush.
		}
		checkpoint, _ := r.loadCheckpoint(ctx, name)
		if checkpoint.Realtime.ModifiedAt.IsZero() || !checkpoint.Realtime.ModifiedAt.Equal(modified) {
			toProcess = append(toProcess, name)
		}
	}

	pool := worker.New(r.concurrency())
	tasks := make([]worker.Task, len(toProcess))
	succeeded := make([]bool, len(toProcess))
	for i, name := range toProcess {
		i, name := i, name
		tasks[i] = func(ctx context.Context) error {
			if err := r.OnPkg(ctx, name); err != nil {
				return nil
			}
			succeeded[i] = true
			return nil
		}
	}
	pool.Run(ctx, tasks)

	var patches []interface{}
	for i, name := range toProcess {
		if !succeeded[i] {
			continue
		}
		modified, err := r.upstreamModifiedAt(ctx, name)
		if err != nil {
			continue
		}
		checkpoint, rev := r.loadCheckpoint(ctx, name)
		checkpoint.ID = checkpointKey(name)
		checkpoint.Rev = rev
		checkpoint.Realtime.ModifiedAt = modified
		patches = append(patches, checkpoint)
	}
	if len(patches) > 0 {
		_, _ = r.Store.BulkPatch(ctx, patches)
	}

	last := batch[len(batch)-1]
	_, err := r.Store.PutWithRetry(ctx, realtimeCheckpointKey, func(rev string) (interface{}, error) {
		return &store.RealtimeCheckpoint{ID: realtimeCheckpointKey, Rev: rev, Seq: last.Seq}, nil
	})
	return err // Conflict here is already tolerated via PutWithRetry's single refetch-and-retry.
}

func (r *Realtime) upstreamModifiedAt(ctx context.Context, name string) (time.Time, error) {
	raw, err := r.Registry.GetPackage(ctx, name)
	if err != nil {
		return time.Time{}, err
	}
	doc, err := store.RawDoc(raw)
	if err != nil {
		return time.Time{}, err
	}
	times, _ := doc["time"].(map[string]interface{})
	modifiedStr, _ := times["modified"].(string)
	modified, err := time.Parse(time.RFC3339, modifiedStr)
	if err != nil {
		return time.Time{}, err
	}
	return modified, nil
}

func (r *Realtime) loadCheckpoint(ctx context.Context, name string) (store.PackageCheckpoint, string) {
	var checkpoint store.PackageCheckpoint
	rev, err := r.Store.Get(ctx, checkpointKey(name), &checkpoint)
	if err != nil {
		return store.PackageCheckpoint{}, ""
	}
	return checkpoint, rev
}

func checkpointKey(name string) string {
	return "obs!" + name
}

func dedupNames(batch []registrydata.Change) []string {
	seen := make(map[string]bool, len(batch))
	var names []string
	for _, c := range batch {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}
