// Package bootstrap provides wait-until-ready probes for every external
// dependency the analyzer talks to: the document store, the registry
// endpoint, the broker and the search index. The teacher has no direct
// analogue for this — each of its services assumed its dependencies were
// already up — so this is modelled on the retry/backoff idiom already in
// common/retry.go rather than borrowed from any one teacher file: a process
// started by an orchestrator that brings CouchDB/RabbitMQ/Elasticsearch up
// in parallel needs to wait for them, not fail the first time a connection
// is refused.
package bootstrap

import (
	"context"

	"github.com/npms-io/npms-analyzer/common"
	"github.com/npms-io/npms-analyzer/config"
	"github.com/npms-io/npms-analyzer/mqueue"
	"github.com/npms-io/npms-analyzer/registrydata"
	"github.com/npms-io/npms-analyzer/searchindex"
	"github.com/npms-io/npms-analyzer/store"
)

// WaitConfig controls how long each probe retries before giving up.
type WaitConfig struct {
	Retry common.RetryConfig
}

// DefaultWaitConfig retries for up to two minutes, the same default as the
// rest of the analyzer's transient-error handling.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{Retry: common.DefaultRetryConfig()}
}

// WaitForStore blocks until the document store accepts a connection, or the
// wait policy gives up.
func WaitForStore(ctx context.Context, cfg config.StoreConfig, wait WaitConfig) (*store.Store, error) {
	return common.Retry(ctx, wait.Retry, func() (*store.Store, error) {
		s, err := store.Open(ctx, cfg)
		return s, classifyDial(err)
	})
}

// WaitForRegistry blocks until the upstream registry endpoint accepts a
// connection, or the wait policy gives up.
func WaitForRegistry(ctx context.Context, cfg config.RegistryConfig, wait WaitConfig) (*registrydata.Client, error) {
	return common.Retry(ctx, wait.Retry, func() (*registrydata.Client, error) {
		c, err := registrydata.Open(ctx, cfg)
		return c, classifyDial(err)
	})
}

// WaitForBroker blocks until the broker accepts a connection and the work
// queues are declared, or the wait policy gives up.
func WaitForBroker(ctx context.Context, cfg config.BrokerConfig, wait WaitConfig) (*mqueue.Queue, error) {
	return common.Retry(ctx, wait.Retry, func() (*mqueue.Queue, error) {
		q, err := mqueue.Open(ctx, cfg)
		return q, classifyDial(err)
	})
}

// WaitForSearchIndex blocks until the search index accepts a connection, or
// the wait policy gives up.
func WaitForSearchIndex(ctx context.Context, cfg config.SearchIndexConfig, wait WaitConfig) (*searchindex.Client, error) {
	return common.Retry(ctx, wait.Retry, func() (*searchindex.Client, error) {
		c, err := searchindex.Open(ctx, cfg)
		return c, classifyDial(err)
	})
}

// classifyDial treats any dial failure as retryable: at process startup a
// "connection refused" or "authentication not yet configured" almost always
// means the dependency is still coming up, not that it will never work.
// Each adapter's Open already classifies its own errors, but Fatal there
// means "this adapter is unusable once connected" — which is too strong a
// reading during the startup race, so bootstrap downgrades every non-nil
// Open error to Transient for the purposes of its own retry loop.
func classifyDial(err error) error {
	if err == nil {
		return nil
	}
	return common.Classify(common.KindTransient, "bootstrap", "waiting for dependency", err)
}
