package control

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresPort(t *testing.T) {
	t.Setenv("RUNTIME_DIRECTORY", "/tmp/jetrelay")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRequiresRuntimeDirectory(t *testing.T) {
	t.Setenv("JETRELAY_PORT", "6009")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("JETRELAY_PORT", "6009")
	t.Setenv("RUNTIME_DIRECTORY", "/tmp/jetrelay")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "6009", cfg.Port)
	require.Equal(t, "/tmp/jetrelay", cfg.RuntimeDirectory)
	require.Equal(t, "info", cfg.LogLevel)
	require.NotEmpty(t, cfg.UpstreamURL)
}

func TestLoadRespectsOverrides(t *testing.T) {
	t.Setenv("JETRELAY_PORT", "6009")
	t.Setenv("RUNTIME_DIRECTORY", "/tmp/jetrelay")
	t.Setenv("JETRELAY_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
}
