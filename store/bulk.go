package store

import (
	"context"
)

// BulkResult mirrors one entry of CouchDB's _bulk_docs response, following
// the shape of db/couchdb_bulk.go's BulkResult.
type BulkResult struct {
	ID    string
	Rev   string
	OK    bool
	Error string
}

// BulkPatch upserts a batch of documents in one round trip. Each entry in
// docs must already carry its "_id" (and "_rev" for updates) field — callers
// build these via PutWithRetry's merge pattern one at a time, or directly
// when they already hold a fresh batch of {key, rev, doc} triples, as the
// realtime observer's per-flush checkpoint patch does (spec.md §4.3 step 6).
func (s *Store) BulkPatch(ctx context.Context, docs []interface{}) ([]BulkResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results, err := s.database.BulkDocs(ctx, docs)
	if err != nil {
		return nil, classify("BulkDocs", err)
	}

	out := make([]BulkResult, 0, len(results))
	for _, r := range results {
		br := BulkResult{ID: r.ID, Rev: r.Rev, OK: r.Error == nil}
		if r.Error != nil {
			br.Error = r.Error.Error()
		}
		out = append(out, br)
	}
	return out, nil
}
