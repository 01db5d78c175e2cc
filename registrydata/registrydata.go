// Package registrydata adapts the upstream npm registry's CouchDB-compatible
// replication endpoint: fetching a package's published manifest and
// following its `_changes` feed. It reuses the same kivik client/error
// classification shape as the store package (see store/store.go), against a
// second, read-only endpoint that the analyzer never writes to.
package registrydata

import (
	"context"
	"encoding/json"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // registers the "couch" driver

	"github.com/npms-io/npms-analyzer/common"
	"github.com/npms-io/npms-analyzer/config"
)

// Client talks to the registry's replication endpoint.
type Client struct {
	client  *kivik.Client
	db      *kivik.DB
	timeout time.Duration
}

const defaultTimeout = 30 * time.Second

// registryDatabase is the conventional database name npm's own replication
// endpoint exposes its package documents under.
const registryDatabase = "registry"

// Open connects to the registry endpoint named in cfg.
func Open(ctx context.Context, cfg config.RegistryConfig) (*Client, error) {
	client, err := kivik.New("couch", cfg.URL)
	if err != nil {
		return nil, common.Classify(common.KindFatal, "registrydata", "connect", err)
	}

	db := client.DB(registryDatabase)
	if err := db.Err(); err != nil {
		return nil, common.Classify(common.KindFatal, "registrydata", "open registry database", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{client: client, db: db, timeout: timeout}, nil
}

// Close releases the underlying HTTP client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// GetPackage fetches a package's full published manifest document
// (dist-tags, versions, time, maintainers, ...) by name. Scoped package
// names (`@scope/name`) are passed through as-is; kivik percent-encodes
// the path segment.
func (c *Client) GetPackage(ctx context.Context, name string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	row := c.db.Get(ctx, name)
	var raw json.RawMessage
	if err := row.ScanDoc(&raw); err != nil {
		return nil, classify("Get", err)
	}
	return raw, nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch kivik.HTTPStatus(err) {
	case 404:
		return common.Classify(common.KindUnrecoverable, "registrydata."+op, "package not found", err)
	case 401, 403:
		return common.Classify(common.KindFatal, "registrydata."+op, "authentication rejected", err)
	case 0:
		return common.Classify(common.KindTransient, "registrydata."+op, "connection failure", err)
	default:
		return common.Classify(common.KindTransient, "registrydata."+op, "registry request failed", err)
	}
}
