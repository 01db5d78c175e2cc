package store

import (
	"context"
	"encoding/json"

	kivik "github.com/go-kivik/kivik/v4"
)

// Row is a single entry of a key-range scan, carrying its raw document so
// callers can decode into whatever type they need.
type Row struct {
	ID  string
	Key interface{}
	Doc json.RawMessage
}

// Page is one page of a key-range scan plus the cursor needed to fetch the
// next one, so a consumer that crashes mid-scan can restart from LastKey
// instead of re-reading everything from the prefix start.
type Page struct {
	Rows    []Row
	LastKey string
	Done    bool
}

// IterateByKeyRange scans `_all_docs` between startKey (inclusive) and
// endKey (exclusive, CouchDB's "￰" high-sentinel convention is the
// caller's responsibility to append) pageSize rows at a time. It returns a
// page and a continuation function: calling the function fetches the next
// page starting just after the last row's key, so the scan is restartable
// from any page boundary. Pages are fetched one after another: each call
// of the continuation returns the page after the one it last returned.
//
// Grounded on the view-pagination option set in db/couchdb_views.go
// (ViewOptions: StartKey/EndKey/Limit/Skip/IncludeDocs), adapted from named
// views to the `_all_docs` prefix scan this adapter's callers need
// (analysis documents keyed `analysis!<name>`, checkpoints `obs!<name>`).
func (s *Store) IterateByKeyRange(ctx context.Context, startKey, endKey string, pageSize int) (Page, func(ctx context.Context) (Page, error), error) {
	fetch := func(ctx context.Context, from string) (Page, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		// Request one extra row so the continuation can start just past the
		// last key of this page without re-delivering it.
		rows := s.database.AllDocs(ctx, kivik.Params(map[string]interface{}{
			"startkey":     from,
			"endkey":       endKey,
			"limit":        pageSize + 1,
			"include_docs": true,
		}))
		defer rows.Close()

		page := Page{Rows: make([]Row, 0, pageSize)}
		for rows.Next() {
			if len(page.Rows) == pageSize {
				// The extra row: this page is full and there's more after it.
				key, _ := rows.Key()
				if keyStr, ok := key.(string); ok {
					page.LastKey = keyStr
				}
				return page, nil
			}

			id, _ := rows.ID()
			key, _ := rows.Key()
			var doc json.RawMessage
			_ = rows.ScanDoc(&doc)

			page.Rows = append(page.Rows, Row{ID: id, Key: key, Doc: doc})
		}
		if err := rows.Err(); err != nil {
			return Page{}, classify("AllDocs", err)
		}

		page.Done = true
		return page, nil
	}

	first, err := fetch(ctx, startKey)
	if err != nil {
		return Page{}, nil, err
	}

	cont := func(ctx context.Context) (Page, error) {
		if first.Done {
			return Page{Done: true}, nil
		}
		next, err := fetch(ctx, first.LastKey)
		if err != nil {
			return Page{}, err
		}
		first = next
		return next, nil
	}

	return first, cont, nil
}

// ForEachInKeyRange drives IterateByKeyRange to completion, invoking fn for
// every row in order of pages. Stops and returns fn's error immediately
// (non-transient errors from a collector's onPackage should not silently
// swallow the rest of the scan — the caller decides whether to keep going).
func ForEachInKeyRange(ctx context.Context, s *Store, startKey, endKey string, pageSize int, fn func(Row) error) error {
	page, cont, err := s.IterateByKeyRange(ctx, startKey, endKey, pageSize)
	if err != nil {
		return err
	}

	for {
		for _, row := range page.Rows {
			if err := fn(row); err != nil {
				return err
			}
		}
		if page.Done {
			return nil
		}
		page, err = cont(ctx)
		if err != nil {
			return err
		}
	}
}
