//go:build integration
// +build integration

package registrydata

import (
	"context"
	"testing"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // registers the "couch" driver
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/npms-io/npms-analyzer/config"
)

// setupRegistryContainer starts a CouchDB container and seeds a "registry"
// database the way npm's own replication endpoint is already populated,
// since registrydata never creates or writes to it.
func setupRegistryContainer(t *testing.T) (string, func()) {
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

	seed, err := kivik.New("couch", url)
	require.NoError(t, err)
	require.NoError(t, seed.CreateDB(ctx, registryDatabase))
	db := seed.DB(registryDatabase)
	_, err = db.Put(ctx, "left-pad", map[string]interface{}{
		"name":      "left-pad",
		"dist-tags": map[string]interface{}{"latest": "1.3.0"},
	})
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	return url, func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
}

func TestClient_Integration_GetPackage(t *testing.T) {
	url, cleanup := setupRegistryContainer(t)
	defer cleanup()

	c, err := Open(context.Background(), config.RegistryConfig{URL: url, Timeout: 10 * time.Second})
	require.NoError(t, err)
	defer c.Close()

	raw, err := c.GetPackage(context.Background(), "left-pad")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "left-pad")
}

func TestClient_Integration_GetPackage_NotFound(t *testing.T) {
	url, cleanup := setupRegistryContainer(t)
	defer cleanup()

	c, err := Open(context.Background(), config.RegistryConfig{URL: url, Timeout: 10 * time.Second})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.GetPackage(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestClient_Integration_IterateNamesSeesSeededPackage(t *testing.T) {
	url, cleanup := setupRegistryContainer(t)
	defer cleanup()

	c, err := Open(context.Background(), config.RegistryConfig{URL: url, Timeout: 10 * time.Second})
	require.NoError(t, err)
	defer c.Close()

	page, cont, err := c.IterateNames(context.Background(), "", "", 10)
	require.NoError(t, err)
	assert.Contains(t, page.Names, "left-pad")
	assert.True(t, page.Done)

	done, err := cont(context.Background())
	require.NoError(t, err)
	assert.True(t, done.Done)
	assert.Empty(t, done.Names)
}

func TestClient_Integration_FollowSeesNewChange(t *testing.T) {
	url, cleanup := setupRegistryContainer(t)
	defer cleanup()

	c, err := Open(context.Background(), config.RegistryConfig{URL: url, Timeout: 10 * time.Second})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	follower, err := c.Follow(ctx, "")
	require.NoError(t, err)
	defer follower.Close()

	done := make(chan Change, 1)
	go func() {
		if change, ok := follower.Next(); ok {
			done <- change
		}
	}()

	time.Sleep(200 * time.Millisecond)
	db := c.db
	_, err = db.Put(ctx, "is-even", map[string]interface{}{"name": "is-even"})
	require.NoError(t, err)

	select {
	case change := <-done:
		assert.Equal(t, "is-even", change.Name)
	case <-ctx.Done():
		t.Fatal("timed out waiting for change")
	}
}
