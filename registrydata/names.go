package registrydata

import (
	"context"

	kivik "github.com/go-kivik/kivik/v4"
)

// NamePage is one page of a registry-wide package name scan plus the
// cursor needed to fetch the next one.
type NamePage struct {
	Names   []string
	LastKey string
	Done    bool
}

// IterateNames scans the registry's `_all_docs` keyspace for package names
// between startKey (inclusive) and endKey (exclusive), pageSize at a time,
// without fetching each document body — `tasks enqueue-missing` only needs
// the name to decide whether an analysis document already exists for it.
// Grounded on the same AllDocs pagination shape as store.IterateByKeyRange,
// adapted to a names-only scan since the registry endpoint is read-only and
// its documents can be large.
func (c *Client) IterateNames(ctx context.Context, startKey, endKey string, pageSize int) (NamePage, func(ctx context.Context) (NamePage, error), error) {
	fetch := func(ctx context.Context, from string) (NamePage, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		params := map[string]interface{}{
			"startkey": from,
			"limit":    pageSize + 1,
		}
		if endKey != "" {
			params["endkey"] = endKey
		}
		rows := c.db.AllDocs(ctx, kivik.Params(params))
		defer rows.Close()

		page := NamePage{Names: make([]string, 0, pageSize)}
		for rows.Next() {
			id, _ := rows.ID()
			if len(page.Names) == pageSize {
				page.LastKey = id
				return page, nil
			}
			page.Names = append(page.Names, id)
		}
		if err := rows.Err(); err != nil {
			return NamePage{}, classify("AllDocs", err)
		}

		page.Done = true
		return page, nil
	}

	first, err := fetch(ctx, startKey)
	if err != nil {
		return NamePage{}, nil, err
	}

	cont := func(ctx context.Context) (NamePage, error) {
		if first.Done {
			return NamePage{Done: true}, nil
		}
		next, err := fetch(ctx, first.LastKey)
		if err != nil {
			return NamePage{}, err
		}
		first = next
		return next, nil
	}

	return first, cont, nil
}
