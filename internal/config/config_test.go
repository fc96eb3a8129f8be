package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().MainPort, cfg.MainPort)
	assert.Equal(t, Default().RedirectorPort, cfg.RedirectorPort)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ext_host: relay.example.com\nmain_port: 9999\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "relay.example.com", cfg.ExtHost)
	assert.Equal(t, 9999, cfg.MainPort)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("main_port: 9999\n"), 0o644))

	t.Setenv("PR_MAIN_PORT", "1234")
	t.Setenv("PR_EXT_HOST", "override.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.MainPort)
	assert.Equal(t, "override.example.com", cfg.ExtHost)
}

func TestLoad_InvalidEnvIntFallsBackToPriorValue(t *testing.T) {
	t.Setenv("PR_MAIN_PORT", "not-a-number")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().MainPort, cfg.MainPort)
}

func TestLoad_BadDatabaseFileIsFatal(t *testing.T) {
	t.Setenv("PR_DATABASE_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/n?sslmode=disable", d.DSN())
}
