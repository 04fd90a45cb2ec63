package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashproxy/stashproxy/internal/bytesize"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	// Point the default config dir somewhere empty.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, "127.0.0.1:9009", cfg.Proxy.ListenAddr)
	assert.Equal(t, "dynamodb", cfg.Store.Backend)
	assert.Equal(t, "stashproxy-items", cfg.Store.Location)
	assert.Equal(t, 24*time.Hour, cfg.Store.Retention)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 3, cfg.Store.Retry.MaxRetries)
	assert.Equal(t, 2, cfg.Transform.MaxResolveDepth)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: debug
  format: json
proxy:
  listen: 127.0.0.1:9999
  runtime_api: 127.0.0.1:9001
store:
  backend: redis
  location: offload
  retention: 1h
  max_item_size: 384Ki
  redis:
    addr: localhost:6379
transform:
  size_threshold: 4Ki
  fine_grained: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level must be normalized to uppercase")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "127.0.0.1:9999", cfg.Proxy.ListenAddr)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, time.Hour, cfg.Store.Retention)
	assert.Equal(t, bytesize.ByteSize(384*1024), cfg.Store.MaxItemSize)
	assert.Equal(t, bytesize.ByteSize(4*1024), cfg.Transform.SizeThreshold)
	assert.True(t, cfg.Transform.FineGrained)

	// Unset fields still get defaults.
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("STASHPROXY_STORE_BACKEND", "memory")
	t.Setenv("STASHPROXY_STORE_LOCATION", "env-bucket")
	t.Setenv("STASHPROXY_TRANSFORM_SIZE_THRESHOLD", "64Ki")
	t.Setenv("STASHPROXY_LOGGING_LEVEL", "DEBUG")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "env-bucket", cfg.Store.Location)
	assert.Equal(t, bytesize.ByteSize(64*1024), cfg.Transform.SizeThreshold)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
store:
  backend: memory
  location: file-bucket
`)
	t.Setenv("STASHPROXY_STORE_LOCATION", "env-wins")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-wins", cfg.Store.Location)
}

func TestLoadInvalidBackend(t *testing.T) {
	path := writeConfigFile(t, `
store:
  backend: cassandra
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoadInvalidLogLevel(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: verbose
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRedisRequiresAddr(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Backend = "redis"
	cfg.Store.Redis.Addr = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.redis.addr")
}

func TestValidateBadgerRequiresPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Backend = "badger"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.badger.path")
}

func TestValidateBackoffOrdering(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Retry.InitialBackoff = 5 * time.Second
	cfg.Store.Retry.MaxBackoff = time.Second

	err := Validate(cfg)
	require.Error(t, err)
}

func TestGetDefaultConfigIsValid(t *testing.T) {
	cfg := GetDefaultConfig()
	assert.NoError(t, Validate(cfg))
	assert.Equal(t, bytesize.ByteSize(4*1024), cfg.Transform.SizeThreshold)
}

func TestSaveAndReloadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Store.Backend = "memory"
	cfg.Store.Location = "round-trip"
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", loaded.Store.Backend)
	assert.Equal(t, "round-trip", loaded.Store.Location)
	assert.Equal(t, cfg.Transform.SizeThreshold, loaded.Transform.SizeThreshold)
}

func TestCreateBackendMemory(t *testing.T) {
	backend, err := CreateBackend(context.Background(), StoreConfig{
		Backend:  "memory",
		Location: "bucket",
	})
	require.NoError(t, err)

	assert.Equal(t, "memory", backend.Name())
	assert.Equal(t, "bucket", backend.Location())
	assert.NoError(t, CloseBackend(backend))
}

func TestCreateBackendUnknown(t *testing.T) {
	_, err := CreateBackend(context.Background(), StoreConfig{Backend: "tape"})
	require.Error(t, err)
}

func TestCreateClientFromConfig(t *testing.T) {
	client, backend, err := CreateClient(context.Background(), StoreConfig{
		Backend:   "memory",
		Location:  "bucket",
		Retention: time.Hour,
	})
	require.NoError(t, err)
	defer CloseBackend(backend)

	assert.Equal(t, "memory", client.Backend())
	assert.Equal(t, "bucket", client.Location())
}
