package registrydata

import (
	"context"

	kivik "github.com/go-kivik/kivik/v4"
)

// Change is one entry from the registry's `_changes` feed: a package whose
// document was created, updated or deleted, tagged with the sequence it
// occurred at so following can resume from exactly this point.
type Change struct {
	Seq     string
	Name    string
	Deleted bool
}

// Follower wraps a continuous `_changes` feed. It is not safe for concurrent
// use; callers should drain it from a single goroutine, as
// observer/realtime.go does.
type Follower struct {
	rows *kivik.Changes
}

// Follow opens a continuous changes feed starting just after since. An empty
// since starts the feed at the current end of the database, mirroring how a
// fresh realtime observer bootstraps without replaying the registry's
// history (spec.md §4.3).
func (c *Client) Follow(ctx context.Context, since string) (*Follower, error) {
	if since == "" {
		since = "now"
	}
	rows := c.db.Changes(ctx, kivik.Params(map[string]interface{}{
		"feed":         "continuous",
		"heartbeat":    30000,
		"since":        since,
		"include_docs": false,
	}))
	if err := rows.Err(); err != nil {
		return nil, classify("Follow", err)
	}
	return &Follower{rows: rows}, nil
}

// Next blocks until the next change arrives, the feed ends, or ctx is
// cancelled. ok is false once the feed is exhausted or in error; callers
// should check Err to distinguish a clean close from a broken connection
// that the caller should reconnect and resume with the last seen seq.
func (f *Follower) Next() (change Change, ok bool) {
	if !f.rows.Next() {
		return Change{}, false
	}
	return Change{Seq: f.rows.Seq(), Name: f.rows.ID(), Deleted: f.rows.Deleted()}, true
}

// Err returns the error that ended the feed, if any.
func (f *Follower) Err() error {
	if err := f.rows.Err(); err != nil {
		return classify("Follow", err)
	}
	return nil
}

// Close releases the underlying HTTP connection backing the feed.
func (f *Follower) Close() error {
	return f.rows.Close()
}
