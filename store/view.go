package store

import (
	"context"
	"encoding/json"

	kivik "github.com/go-kivik/kivik/v4"
)

// ViewOptions mirrors the query parameters CouchDB views accept, following
// the same option set as db/couchdb_views.go's ViewOptions.
type ViewOptions struct {
	Key         interface{}
	StartKey    interface{}
	EndKey      interface{}
	IncludeDocs bool
	Limit       int
	Skip        int
	Descending  bool
	Reduce      bool
	Group       bool
	GroupLevel  int
}

// ViewRow is a single row of a view query result.
type ViewRow struct {
	ID    string
	Key   interface{}
	Value interface{}
	Doc   json.RawMessage
}

// ViewResult is the full (non-paginated) result of QueryView, used for
// smaller views like `packages-stale` pages and the dependents-count view.
type ViewResult struct {
	Rows []ViewRow
}

// QueryView runs a CouchDB map/reduce view under the given design document
// (without the "_design/" prefix) and view name.
func (s *Store) QueryView(ctx context.Context, design, view string, opts ViewOptions) (*ViewResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := map[string]interface{}{}
	if opts.Key != nil {
		params["key"] = opts.Key
	}
	if opts.StartKey != nil {
		params["startkey"] = opts.StartKey
	}
	if opts.EndKey != nil {
		params["endkey"] = opts.EndKey
	}
	if opts.IncludeDocs {
		params["include_docs"] = true
	}
	if opts.Limit > 0 {
		params["limit"] = opts.Limit
	}
	if opts.Skip > 0 {
		params["skip"] = opts.Skip
	}
	if opts.Descending {
		params["descending"] = true
	}
	if opts.Reduce {
		params["reduce"] = true
	} else if opts.Key != nil || opts.StartKey != nil || opts.EndKey != nil {
		params["reduce"] = false
	}
	if opts.Group {
		params["group"] = true
	}
	if opts.GroupLevel > 0 {
		params["group_level"] = opts.GroupLevel
	}

	rows := s.database.Query(ctx, "_design/"+design, view, kivik.Params(params))
	defer rows.Close()

	result := &ViewResult{}
	for rows.Next() {
		row := ViewRow{}
		if id, err := rows.ID(); err == nil {
			row.ID = id
		}
		if key, err := rows.Key(); err == nil {
			row.Key = key
		}
		var value interface{}
		if err := rows.ScanValue(&value); err == nil {
			row.Value = value
		}
		if opts.IncludeDocs {
			var doc json.RawMessage
			_ = rows.ScanDoc(&doc)
			row.Doc = doc
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("Query", err)
	}

	return result, nil
}

// QueryViewPage runs QueryView bounded to pageSize+1 rows starting at
// startKey, returning the page's rows, the start key of the next page and
// a done flag (true when no rows remain) rather than a continuation.
// This is what the Stale Observer uses against `packages-stale`
// (spec.md §4.4): keyed `[type, last-evaluated-ms, name]`, scanned in pages
// with endkey = `[type, now-threshold, "￰"]`.
func (s *Store) QueryViewPage(ctx context.Context, design, view string, startKey, endKey interface{}, pageSize int) ([]ViewRow, interface{}, bool, error) {
	result, err := s.QueryView(ctx, design, view, ViewOptions{
		StartKey:    startKey,
		EndKey:      endKey,
		Limit:       pageSize + 1,
		IncludeDocs: true,
	})
	if err != nil {
		return nil, nil, false, err
	}

	if len(result.Rows) <= pageSize {
		return result.Rows, nil, true, nil
	}

	extra := result.Rows[pageSize]
	return result.Rows[:pageSize], extra.Key, false, nil
}
