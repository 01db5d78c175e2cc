package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "https://replicate.npmjs.com", cfg.Registry.URL)
	assert.Equal(t, "npms-analyzer", cfg.Store.Database)
	assert.Equal(t, "analysis", cfg.Broker.QueueName)
	assert.True(t, cfg.Features.RealtimeObserverEnabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ANALYZER_BROKER_QUEUE", "custom-queue")
	t.Setenv("ANALYZER_GITHUB_TOKENS", "tok1, tok2 ,tok3")

	cfg := Load()
	assert.Equal(t, "custom-queue", cfg.Broker.QueueName)
	assert.Equal(t, []string{"tok1", "tok2", "tok3"}, cfg.SourceHost.GitHubTokens)
}

func TestConfig_Validate_RejectsMissingEndpoints(t *testing.T) {
	cfg := Load()
	cfg.Store.URL = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_Denied(t *testing.T) {
	cfg := Load()
	cfg.Denylist = []string{"left-pad", "evil-package"}
	assert.True(t, cfg.Denied("evil-package"))
	assert.False(t, cfg.Denied("lodash"))
}
