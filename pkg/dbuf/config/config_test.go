package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dbufcache/pkg/dbuf/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, 16, cfg.Stripes)
	require.Greater(t, cfg.IndirBlockShift, uint(0))
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadWithNoFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dbuf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stripes: 32\nlog_level: debug\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 32, cfg.Stripes)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dbuf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: verbose\n"), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
}
