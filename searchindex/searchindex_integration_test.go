//go:build integration
// +build integration

package searchindex

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

func setupElasticsearchContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "docker.elastic.co/elasticsearch/elasticsearch:7.17.24",
		ExposedPorts: []string{"9200/tcp"},
		Env: map[string]string{
			"discovery.type":         "single-node",
			"xpack.security.enabled": "false",
		},
		WaitingFor: wait.ForHTTP("/_cluster/health").WithPort("9200/tcp").WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9200")
	require.NoError(t, err)

	url := "http://" + host + ":" + port.Port()

	return url, func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
}

func TestClient_Integration_PrepareScoreFinalizeCycle(t *testing.T) {
	url, cleanup := setupElasticsearchContainer(t)
	defer cleanup()

	c, err := Open(context.Background(), config.SearchIndexConfig{URL: url})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()

	const newIndex = "scores-1700000000000"
	require.NoError(t, c.CreateIndex(ctx, newIndex, `{"mappings":{"properties":{"score":{"type":"float"}}}}`))
	require.NoError(t, c.SetAlias(ctx, "new", newIndex))

	require.NoError(t, c.IndexDocument(ctx, newIndex, "left-pad", map[string]interface{}{"name": "left-pad", "score": 0.9}))

	require.NoError(t, c.SwapAlias(ctx, "current", nil, newIndex))
	require.NoError(t, c.RemoveAlias(ctx, "new", newIndex))

	aliases, err := c.ListAliases(ctx)
	require.NoError(t, err)
	assert.Equal(t, newIndex, aliases["current"])
	_, hasNew := aliases["new"]
	assert.False(t, hasNew)

	indices, err := c.ListIndices(ctx)
	require.NoError(t, err)
	assert.Contains(t, indices, newIndex)
}

func TestClient_Integration_DeleteIndex(t *testing.T) {
	url, cleanup := setupElasticsearchContainer(t)
	defer cleanup()

	c, err := Open(context.Background(), config.SearchIndexConfig{URL: url})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "scores-old", `{}`))
	require.NoError(t, c.DeleteIndex(ctx, "scores-old"))

	indices, err := c.ListIndices(ctx)
	require.NoError(t, err)
	assert.NotContains(t, indices, "scores-old")
}
