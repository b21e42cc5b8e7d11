package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, 1, cfg.Relay.ChannelCapacity)
		assert.True(t, cfg.Relay.DiscoverOnFirstUse)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.False(t, cfg.Journal.Enabled)
	})

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Addr)
	})

	t.Run("yaml file overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
server:
  addr: ":9090"
  shutdown_timeout: 5s
relay:
  channel_capacity: 4
session:
  inactivity_timeout: 90s
backends:
  - id: docsearch
    url: http://docs:9001
  - id: imagecaption
    url: http://imgs:9002
log:
  level: debug
journal:
  enabled: true
  path: /tmp/relay.db
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":9090", cfg.Server.Addr)
		assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, 4, cfg.Relay.ChannelCapacity)
		assert.Equal(t, 90*time.Second, cfg.Session.InactivityTimeout)
		require.Len(t, cfg.Backends, 2)
		assert.Equal(t, "docsearch", cfg.Backends[0].ID)
		assert.Equal(t, "http://imgs:9002", cfg.Backends[1].URL)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.True(t, cfg.Journal.Enabled)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		path := writeConfig(t, "server:\n  addr: \":9090\"\n")
		t.Setenv("AGENTRELAY_SERVER_ADDR", ":7070")
		t.Setenv("AGENTRELAY_SESSION_REQUEST_TIMEOUT", "45s")
		t.Setenv("AGENTRELAY_RELAY_DISCOVER_ON_FIRST_USE", "false")
		t.Setenv("AGENTRELAY_SERVER_SUBMIT_RATE_PER_SECOND", "2.5")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":7070", cfg.Server.Addr)
		assert.Equal(t, 45*time.Second, cfg.Session.RequestTimeout)
		assert.False(t, cfg.Relay.DiscoverOnFirstUse)
		assert.Equal(t, 2.5, cfg.Server.SubmitRatePerSecond)
	})

	t.Run("backends from the environment replace the file's", func(t *testing.T) {
		path := writeConfig(t, `
backends:
  - id: old
    url: http://old:9000
`)
		t.Setenv("AGENTRELAY_BACKENDS", "docs=http://docs:9001, imgs=http://imgs:9002")

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Len(t, cfg.Backends, 2)
		assert.Equal(t, "docs", cfg.Backends[0].ID)
		assert.Equal(t, "http://docs:9001", cfg.Backends[0].URL)
		assert.Equal(t, "imgs", cfg.Backends[1].ID)
	})

	t.Run("malformed backend env entry", func(t *testing.T) {
		t.Setenv("AGENTRELAY_BACKENDS", "no-equals-sign")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("invalid duration env value", func(t *testing.T) {
		t.Setenv("AGENTRELAY_SESSION_REQUEST_TIMEOUT", "not-a-duration")
		_, err := Load("")
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, DefaultConfig().Validate())
	})

	t.Run("missing addr", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.Addr = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero channel capacity", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Relay.ChannelCapacity = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("duplicate backend ids", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Backends = []BackendConfig{
			{ID: "docs", URL: "http://a"},
			{ID: "docs", URL: "http://b"},
		}
		assert.Error(t, cfg.Validate())
	})

	t.Run("backend without url", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Backends = []BackendConfig{{ID: "docs"}}
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown log level", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Log.Level = "verbose"
		assert.Error(t, cfg.Validate())
	})
}
