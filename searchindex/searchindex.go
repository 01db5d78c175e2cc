// Package searchindex is the Search Index adapter from spec.md §4: list
// indices, list aliases, create index, atomic alias swap, delete index,
// index document — all that the scoring cycle needs to build and publish a
// score snapshot without exposing Elasticsearch's own client types to the
// rest of the analyzer. It is driven the same way `db/couchdb.go` drives
// CouchDB's database-admin endpoints (list/create/delete wrapped in a typed
// error), generalized from CouchDB's HTTP API to Elasticsearch's.
package searchindex

import (
	"context"
	"fmt"

	elastic "github.com/olivere/elastic/v7"

	"github.com/npms-io/npms-analyzer/config"
)

// Error is the typed envelope every Client method returns on failure,
// mirroring the teacher's `*CouchDBError{StatusCode, ErrorType, Reason}`
// shape so callers can branch on structured fields instead of parsing
// Elasticsearch's own error strings.
type Error struct {
	StatusCode int
	ErrorType  string
	Reason     string
	Cause      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("searchindex: %s (%s, status %d): %v", e.Reason, e.ErrorType, e.StatusCode, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func wrap(reason string, err error) error {
	if err == nil {
		return nil
	}
	if elastic.IsNotFound(err) {
		return &Error{StatusCode: 404, ErrorType: "not_found", Reason: reason, Cause: err}
	}
	if e, ok := err.(*elastic.Error); ok {
		errType := ""
		if e.Details != nil {
			errType = e.Details.Type
		}
		return &Error{StatusCode: e.Status, ErrorType: errType, Reason: reason, Cause: err}
	}
	return &Error{StatusCode: 0, ErrorType: "", Reason: reason, Cause: err}
}

// Client is a thin wrapper over an Elasticsearch client scoped to the
// scoring cycle's index/alias lifecycle.
type Client struct {
	es *elastic.Client
}

// Open connects to the search index named in cfg.
func Open(ctx context.Context, cfg config.SearchIndexConfig) (*Client, error) {
	es, err := elastic.NewClient(
		elastic.SetURL(cfg.URL),
		elastic.SetSniff(false),
	)
	if err != nil {
		return nil, wrap("connect", err)
	}
	return &Client{es: es}, nil
}

// Close releases the underlying HTTP connections.
func (c *Client) Close() {
	c.es.Stop()
}

// ListIndices returns the names of every physical index currently present,
// so Prepare can decide which ones are no longer referenced by `current`
// and should be garbage-collected.
func (c *Client) ListIndices(ctx context.Context) ([]string, error) {
	names, err := c.es.IndexNames()
	if err != nil {
		return nil, wrap("list indices", err)
	}
	return names, nil
}

// ListAliases returns, for each alias name, the physical index it points
// to. Only `current` and `new` are meaningful to the scoring cycle, but
// every alias on the cluster is reported.
func (c *Client) ListAliases(ctx context.Context) (map[string]string, error) {
	res, err := c.es.Aliases().Do(ctx)
	if err != nil {
		return nil, wrap("list aliases", err)
	}
	aliases := make(map[string]string)
	for index, info := range res.Indices {
		for _, a := range info.Aliases {
			aliases[a.AliasName] = index
		}
	}
	return aliases, nil
}

// CreateIndex creates a fresh physical index with the given mapping body
// (a JSON document describing settings/mappings), failing if one by that
// name already exists.
func (c *Client) CreateIndex(ctx context.Context, name string, mapping string) error {
	_, err := c.es.CreateIndex(name).BodyString(mapping).Do(ctx)
	return wrap("create index "+name, err)
}

// DeleteIndex removes a physical index outright. Used both to garbage
// collect stale `current` targets during Prepare and to clean up a
// half-built `new` index if a cycle fails before Finalize.
func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	_, err := c.es.DeleteIndex(name).Do(ctx)
	return wrap("delete index "+name, err)
}

// SetAlias points alias at index, replacing whatever index it previously
// pointed to. This is used for the transient `new` alias during Prepare,
// where atomicity across indices doesn't matter yet.
func (c *Client) SetAlias(ctx context.Context, alias, index string) error {
	_, err := c.es.Alias().Remove("_all", alias).Add(index, alias).Do(ctx)
	return wrap("set alias "+alias, err)
}

// SwapAlias atomically removes fromIndices from alias and adds toIndex to
// it in a single request, so external readers of alias never observe a
// state where it resolves to zero or more than one index (spec.md's
// "atomic score swap" invariant). Used by Finalize to retarget `current`.
func (c *Client) SwapAlias(ctx context.Context, alias string, fromIndices []string, toIndex string) error {
	svc := c.es.Alias()
	for _, from := range fromIndices {
		svc = svc.Remove(from, alias)
	}
	svc = svc.Add(toIndex, alias)
	_, err := svc.Do(ctx)
	return wrap("swap alias "+alias, err)
}

// RemoveAlias detaches alias from whichever index it points to, used to
// drop the transient `new` alias once Finalize has repointed `current`.
func (c *Client) RemoveAlias(ctx context.Context, alias, index string) error {
	_, err := c.es.Alias().Remove(index, alias).Do(ctx)
	return wrap("remove alias "+alias, err)
}

// IndexDocument writes one per-package score document into the physical
// index behind the `new` alias, keyed by package name.
func (c *Client) IndexDocument(ctx context.Context, index, id string, doc interface{}) error {
	_, err := c.es.Index().Index(index).Id(id).BodyJson(doc).Do(ctx)
	return wrap("index document "+id, err)
}
