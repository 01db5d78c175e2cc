//go:build integration
// +build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/npms-io/npms-analyzer/config"
)

func setupCouchDBContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "couchdb:3.3",
		ExposedPorts: []string{"5984/tcp"},
		Env: map[string]string{
			"COUCHDB_USER":     "admin",
			"COUCHDB_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForHTTP("/_up").WithPort("5984/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5984")
	require.NoError(t, err)

	url := "http://admin:testpass@" + host + ":" + port.Port()

	return url, func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
}

func TestStore_Integration_PutGetDelete(t *testing.T) {
	url, cleanup := setupCouchDBContainer(t)
	defer cleanup()

	s, err := Open(context.Background(), config.StoreConfig{
		URL: url, Database: "npms_test", Timeout: 10 * time.Second, CreateIfMissing: true,
	})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	rev, err := s.Put(ctx, "analysis!left-pad", map[string]interface{}{"name": "left-pad"})
	require.NoError(t, err)
	assert.NotEmpty(t, rev)

	var doc map[string]interface{}
	gotRev, err := s.Get(ctx, "analysis!left-pad", &doc)
	require.NoError(t, err)
	assert.Equal(t, rev, gotRev)
	assert.Equal(t, "left-pad", doc["name"])

	require.NoError(t, s.Delete(ctx, "analysis!left-pad", gotRev))

	_, err = s.Get(ctx, "analysis!left-pad", &doc)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Integration_PutConflictThenRetry(t *testing.T) {
	url, cleanup := setupCouchDBContainer(t)
	defer cleanup()

	s, err := Open(context.Background(), config.StoreConfig{
		URL: url, Database: "npms_test", Timeout: 10 * time.Second, CreateIfMissing: true,
	})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.Put(ctx, "obs!left-pad", map[string]interface{}{"stale": map[string]interface{}{"notifiedAt": 1}})
	require.NoError(t, err)

	// Stale revision, should conflict and PutWithRetry should recover.
	_, err = s.PutWithRetry(ctx, "obs!left-pad", func(rev string) (interface{}, error) {
		return map[string]interface{}{"_rev": rev, "stale": map[string]interface{}{"notifiedAt": 2}}, nil
	})
	require.NoError(t, err)

	var doc map[string]interface{}
	_, err = s.Get(ctx, "obs!left-pad", &doc)
	require.NoError(t, err)
}

func TestStore_Integration_IterateByKeyRange(t *testing.T) {
	url, cleanup := setupCouchDBContainer(t)
	defer cleanup()

	s, err := Open(context.Background(), config.StoreConfig{
		URL: url, Database: "npms_test", Timeout: 10 * time.Second, CreateIfMissing: true,
	})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for _, name := range []string{"analysis!a", "analysis!b", "analysis!c"} {
		_, err := s.Put(ctx, name, map[string]interface{}{"name": name})
		require.NoError(t, err)
	}

	var seen []string
	err = ForEachInKeyRange(ctx, s, "analysis!", "analysis!￰", 2, func(r Row) error {
		seen = append(seen, r.ID)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"analysis!a", "analysis!b", "analysis!c"}, seen)
}
