package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseFile(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("json", func(t *testing.T) {
		os.Args = []string{"client", "-c", writeTemp(t, "client.json",
			`{"server_endpoint_addr":"remote:1","online_check_interval":"5s","max_retries":4,"coalesce_updates":true}`)}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseFile(cfg)

		want := &Config{}
		want.LoadDefaults()
		want.ServerEndpointAddr = "remote:1"
		want.OnlineCheckInterval = 5 * time.Second
		want.MaxRetries = 4
		want.CoalesceUpdates = true
		assert.Empty(t, cmp.Diff(want, cfg))
	})

	t.Run("yaml", func(t *testing.T) {
		os.Args = []string{"client", "-config=" + writeTemp(t, "client.yml",
			"database_path: /data/t.db\nnotify_addr: 127.0.0.1:8765\napply_timeout: 2s\nevent_log_capacity: 20\ncoalesce_updates: false\n")}

		cfg := &Config{}
		cfg.LoadDefaults()
		cfg.CoalesceUpdates = true
		parseFile(cfg)

		assert.Equal(t, "/data/t.db", cfg.DatabasePath)
		assert.Equal(t, "127.0.0.1:8765", cfg.NotifyAddr)
		assert.Equal(t, 2*time.Second, cfg.ApplyTimeout)
		assert.Equal(t, 20, cfg.EventLogCapacity)
		assert.False(t, cfg.CoalesceUpdates, "explicit false overrides")
		assert.Equal(t, "127.0.0.1:50051", cfg.ServerEndpointAddr, "absent keys keep defaults")
	})

	t.Run("bad duration panics", func(t *testing.T) {
		os.Args = []string{"client", "-c", writeTemp(t, "bad.json", `{"online_check_interval":"soon"}`)}
		require.Panics(t, func() { parseFile(&Config{}) })
	})

	t.Run("missing file panics", func(t *testing.T) {
		os.Args = []string{"client", "-c", filepath.Join(t.TempDir(), "none.yaml")}
		require.Panics(t, func() { parseFile(&Config{}) })
	})
}
