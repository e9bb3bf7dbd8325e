package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Store)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "default", cfg.RedisNamespace)
	assert.Equal(t, "http://localhost:3000", cfg.ServerURL)
	assert.Equal(t, "auto", cfg.LogFormat)
	assert.Equal(t, "stderr", cfg.LogOutput)
	assert.Empty(t, cfg.ConfigFile)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("RDDM_STORE", "Redis")
	t.Setenv("RDDM_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("RDDM_SERVER_URL", "https://rddm.example.com/")
	t.Setenv("RDDM_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Store)
	assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
	assert.Equal(t, "https://rddm.example.com", cfg.ServerURL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())

	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: redis\nredis_namespace: staging\nformat: yaml\n"), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Store)
	assert.Equal(t, "staging", cfg.RedisNamespace)
	assert.Equal(t, "yaml", cfg.Format)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestLoadConfig_DotFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".rddm.yaml"), []byte("redis_namespace: local\n"), 0o600))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.RedisNamespace)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("RDDM_REDIS_NAMESPACE", "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("RDDM_REDIS_NAMESPACE=fromenv\n"), 0o600))
	// Setenv restores the variable afterwards; godotenv skips set variables.
	require.NoError(t, os.Unsetenv("RDDM_REDIS_NAMESPACE"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "fromenv", cfg.RedisNamespace)
}

func TestUpdateFromFlags(t *testing.T) {
	cfg := &Config{Format: "table", LogLevel: "info"}
	cfg.UpdateFromFlags(true, false, true, "", "")
	assert.True(t, cfg.Verbose)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "table", cfg.Format)
	assert.Equal(t, "info", cfg.LogLevel)

	cfg.UpdateFromFlags(false, true, false, "json", "error")
	assert.True(t, cfg.Verbose)
	assert.True(t, cfg.Quiet)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "error", cfg.LogLevel)
}
