//go:build integration
// +build integration

package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/npms-io/npms-analyzer/config"
)

func TestWaitForStore_Integration_SucceedsOnceReady(t *testing.T) {
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
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5984")
	require.NoError(t, err)
	url := "http://admin:testpass@" + host + ":" + port.Port()

	waitCfg := DefaultWaitConfig()
	waitCfg.Retry.MaxElapsedTime = 20 * time.Second

	s, err := WaitForStore(ctx, config.StoreConfig{
		URL: url, Database: "npms_bootstrap_test", Timeout: 5 * time.Second, CreateIfMissing: true,
	}, waitCfg)
	require.NoError(t, err)
	defer s.Close()
}
