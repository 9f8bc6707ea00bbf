package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersSingleConfigFlag(t *testing.T) {
	app := New()
	require.NotNil(t, app.rootCmd)

	flag := app.rootCmd.Flags().Lookup("config")
	require.NotNil(t, flag, "--config flag must be registered")
	assert.Equal(t, "", flag.DefValue)

	// Spec §6: "a single supervisor binary taking one flag --config
	// <path>; no subcommands".
	assert.Empty(t, app.rootCmd.Commands())
}

func TestSetVersionStoresBuildInfo(t *testing.T) {
	app := New()
	app.SetVersion("1.2.3", "abcdef", "2026-01-01")

	assert.Equal(t, "1.2.3", app.version)
	assert.Equal(t, "abcdef", app.commit)
	assert.Equal(t, "2026-01-01", app.date)
}

func TestRunFailsFastOnInvalidConfigPath(t *testing.T) {
	app := New()
	app.rootCmd.SetArgs([]string{"--config", "/nonexistent/path/to/config.yaml"})

	err := app.Execute()
	assert.Error(t, err)
}
