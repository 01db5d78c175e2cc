// Package store is the Document Store adapter described in spec.md §4.1: a
// thin, conflict-aware layer over CouchDB via the Kivik driver, exposing
// get/put/delete/bulk-patch/iterate-by-key-range/query-view to every other
// component. It replaces the teacher's flow-specific db.CouchDBService with
// a generic document store keyed by opaque string keys, following the same
// client/database wiring (db/couchdb.go: NewCouchDBService) but without the
// flow-audit-trail bookkeeping that belonged to that domain.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // registers the "couch" driver

	"github.com/npms-io/npms-analyzer/common"
	"github.com/npms-io/npms-analyzer/config"
)

// Store wraps a single CouchDB database connection.
type Store struct {
	client   *kivik.Client
	database *kivik.DB
	name     string
	timeout  time.Duration
}

// ErrNotFound is returned by Get when no document exists for the given key.
var ErrNotFound = fmt.Errorf("document not found")

// ErrConflict is returned by Put/Delete when the supplied revision is stale.
var ErrConflict = fmt.Errorf("document revision conflict")

// Open connects to CouchDB and ensures the configured database exists,
// creating it when cfg.CreateIfMissing is set — mirroring
// NewCouchDBService's auto-provisioning behavior.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	client, err := kivik.New("couch", cfg.URL)
	if err != nil {
		return nil, common.Classify(common.KindFatal, "store", "failed to connect to CouchDB", err)
	}

	exists, err := client.DBExists(ctx, cfg.Database)
	if err != nil {
		return nil, classify("DBExists", err)
	}
	if !exists {
		if !cfg.CreateIfMissing {
			return nil, &common.Classified{Kind: common.KindFatal, Origin: "store", Reason: fmt.Sprintf("database %q does not exist", cfg.Database)}
		}
		if err := client.CreateDB(ctx, cfg.Database); err != nil {
			return nil, classify("CreateDB", err)
		}
	}

	return &Store{
		client:   client,
		database: client.DB(cfg.Database),
		name:     cfg.Database,
		timeout:  cfg.Timeout,
	}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Get fetches the document stored under key and decodes it into out. Returns
// ErrNotFound (classified KindUnrecoverable, since a missing document is a
// caller-visible fact, not a transient condition) when the key doesn't exist.
func (s *Store) Get(ctx context.Context, key string, out interface{}) (rev string, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := s.database.Get(ctx, key)
	if row.Err() != nil {
		return "", classify("Get", row.Err())
	}
	if err := row.ScanDoc(out); err != nil {
		return "", common.Classify(common.KindUnrecoverable, "store", "failed to decode document", err)
	}
	return row.Rev, nil
}

// Put creates or updates the document stored under key. There is no rev
// parameter: for an update the doc itself must carry the current revision
// in its "_rev" field, and omit it for a new document; a stale _rev
// yields ErrConflict so the caller can refetch and retry (spec.md §4.1:
// "Conflict on put/delete triggers a fresh get + bounded retry").
func (s *Store) Put(ctx context.Context, key string, doc interface{}) (newRev string, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	newRev, err = s.database.Put(ctx, key, doc)
	if err != nil {
		return "", classify("Put", err)
	}
	return newRev, nil
}

// PutWithRetry retries Put through a single conflict: it calls build("")
// for the first attempt, and on ErrConflict it Gets the document's current
// revision, calls build again with that revision, and retries once. This is the shape every write path in the analyzer (checkpoints,
// analysis documents, aggregation) follows instead of hand-rolling the
// refetch loop at each call site.
func (s *Store) PutWithRetry(ctx context.Context, key string, build func(rev string) (interface{}, error)) (newRev string, err error) {
	doc, err := build("")
	if err != nil {
		return "", err
	}

	newRev, err = s.Put(ctx, key, doc)
	if err == nil || !errors.Is(err, ErrConflict) {
		return newRev, err
	}

	var existing map[string]interface{}
	rev, getErr := s.Get(ctx, key, &existing)
	if getErr != nil && !errors.Is(getErr, ErrNotFound) {
		return "", getErr
	}

	doc, err = build(rev)
	if err != nil {
		return "", err
	}
	return s.Put(ctx, key, doc)
}

// Delete removes the document at key with the given revision.
func (s *Store) Delete(ctx context.Context, key, rev string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.database.Delete(ctx, key, rev)
	if err != nil {
		return classify("Delete", err)
	}
	return nil
}

// Compact triggers a view-cleanup and database compaction, used by
// `tasks optimize-db`.
func (s *Store) Compact(ctx context.Context) error {
	if err := s.database.Compact(ctx); err != nil {
		return classify("Compact", err)
	}
	if err := s.database.ViewCleanup(ctx); err != nil {
		return classify("ViewCleanup", err)
	}
	return nil
}

// classify maps a raw Kivik/CouchDB error to the common.Kind taxonomy,
// following the status-code dispatch in db/couchdb.go's CouchDBError
// construction, generalized from "one struct per failing call" into the
// shared Classified wrapper every adapter uses.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	status := kivik.HTTPStatus(err)
	switch status {
	case 404:
		return common.Classify(common.KindUnrecoverable, "store", op+": "+ErrNotFound.Error(), ErrNotFound)
	case 409:
		return common.Classify(common.KindTransient, "store", op+": "+ErrConflict.Error(), ErrConflict)
	case 401, 403:
		return common.Classify(common.KindFatal, "store", op+": authentication rejected", err)
	case 0:
		// No HTTP status: network-level failure (connection refused, timeout).
		return common.Classify(common.KindTransient, "store", op+": connection failure", err)
	default:
		if status >= 500 {
			return common.Classify(common.KindTransient, "store", op+": server error", err)
		}
		return common.Classify(common.KindUnrecoverable, "store", op+": unexpected response", err)
	}
}

// RawDoc decodes a json.RawMessage into an untyped map, used by view/iterate
// results that include_docs without knowing the concrete document type ahead
// of time.
func RawDoc(raw json.RawMessage) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, common.Classify(common.KindUnrecoverable, "store", "failed to decode raw document", err)
	}
	return out, nil
}
