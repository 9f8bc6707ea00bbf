package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radonc/mqsupervisor/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.StateDBPath = filepath.Join(dir, "state.db")
	cfg.WatchDir = filepath.Join(dir, "cases")
	cfg.LogDir = filepath.Join(dir, "logs")
	require.NoError(t, os.MkdirAll(cfg.WatchDir, 0700))
	return cfg
}

func TestWireAllComponents(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.Validate())

	sup, err := Wire(cfg, zap.NewNop())
	require.NoError(t, err)
	defer sup.Close()

	assert.NotNil(t, sup.Store)
	assert.NotNil(t, sup.Watcher)
	assert.NotNil(t, sup.Pool)
	assert.NotNil(t, sup.Loop)
	assert.NotNil(t, sup.StatusAPI)
}

func TestWireFailsOnUnopenableStore(t *testing.T) {
	cfg := testConfig(t)
	// A path that is itself a directory can never be opened as a sqlite
	// file, regardless of EnsureDirectories creating its parent.
	cfg.StateDBPath = t.TempDir()

	_, err := Wire(cfg, zap.NewNop())
	assert.Error(t, err)
}
