package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/tourkeeper/internal/client/config"
	"github.com/dmitrijs2005/tourkeeper/internal/client/storage"
	"github.com/dmitrijs2005/tourkeeper/internal/common"
	"github.com/dmitrijs2005/tourkeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStorage struct{ *storage.Memory }

func (failingStorage) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk gone")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "tk.db")
	// nothing listens here; probes fail fast
	cfg.ServerEndpointAddr = "127.0.0.1:1"
	cfg.OnlineCheckInterval = 50 * time.Millisecond
	return cfg
}

func TestLoadActorID(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()

	first, err := loadActorID(ctx, st)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := loadActorID(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	raw, _ := st.Get(ctx, common.ActorStorageKey)
	assert.Equal(t, first, string(raw))

	_, err = loadActorID(ctx, failingStorage{storage.NewMemory()})
	assert.Error(t, err)
}

func TestNewApp(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.DatabasePath = filepath.Join(t.TempDir(), "nested", "tk.db")

	a, err := NewApp(ctx, cfg, logging.Nop())
	require.NoError(t, err)
	assert.NotNil(t, a.watcher)
	assert.Nil(t, a.notifier)
	assert.Len(t, a.closers, 2)
	assert.Equal(t, ModeOffline, a.mode())
	require.NoError(t, a.Close())
}

func TestNewApp_FallsBackToMemory(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.DatabasePath = filepath.Join(blocker, "tk.db")

	a, err := NewApp(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	assert.Nil(t, a.watcher)
	assert.Len(t, a.closers, 1)
	require.NoError(t, a.Close())
}

func TestApp_Run(t *testing.T) {
	captureOutput(t)
	origTerminal := isTerminal
	isTerminal = func() bool { return false }
	t.Cleanup(func() { isTerminal = origTerminal })

	cfg := testConfig(t)
	cfg.NotifyAddr = "127.0.0.1:0"

	a, err := NewApp(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	require.NotNil(t, a.notifier)

	var out bytes.Buffer
	a.out = &out
	a.scanner = bufio.NewScanner(strings.NewReader("add Fest Berlin 2025-07-01\nlist\nexit\n"))

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}

	assert.Contains(t, out.String(), "Added ")
	assert.Contains(t, out.String(), "Berlin")
	assert.Len(t, a.queue.GetQueued(), 1)

	// the record and its queued operation survive a restart
	b, err := NewApp(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, 1, b.shows.Len())
	assert.Len(t, b.queue.GetQueued(), 1)
}
