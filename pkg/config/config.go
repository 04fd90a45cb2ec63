package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stashproxy/stashproxy/internal/bytesize"
	"github.com/stashproxy/stashproxy/pkg/proxy"
)

// Config represents the stashproxy configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (STASHPROXY_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Proxy configures the local intercepting server
	Proxy proxy.Config `mapstructure:"proxy" yaml:"proxy"`

	// Store configures the content store backend
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Transform configures the offload/resolve behavior
	Transform TransformConfig `mapstructure:"transform" yaml:"transform"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path. A sidecar must never
	// write to the handler's stdout, so the default is stderr.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// StoreConfig configures the content store backend and the client wrapped
// around it.
type StoreConfig struct {
	// Backend selects the store implementation.
	Backend string `mapstructure:"backend" validate:"required,oneof=dynamodb s3 badger redis memory" yaml:"backend"`

	// Location is the backend namespace: table name for DynamoDB, bucket
	// for S3, key namespace for Redis and Badger. It is embedded in every
	// reference token, so readers and writers must agree on it.
	Location string `mapstructure:"location" validate:"required" yaml:"location"`

	// Retention is how long stored content stays retrievable.
	// Default: 24h
	Retention time.Duration `mapstructure:"retention" validate:"omitempty,gt=0" yaml:"retention"`

	// Timeout bounds each individual backend call.
	// Default: 5s
	Timeout time.Duration `mapstructure:"timeout" validate:"omitempty,gt=0" yaml:"timeout"`

	// MaxItemSize rejects blobs above the backend's per-item ceiling
	// before the backend does. Supports human-readable sizes like
	// "384Ki". Zero disables the guard.
	MaxItemSize bytesize.ByteSize `mapstructure:"max_item_size" yaml:"max_item_size,omitempty"`

	// Retry controls retries of transient backend failures.
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`

	// DynamoDB holds settings used when Backend is "dynamodb".
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb" yaml:"dynamodb,omitempty"`

	// S3 holds settings used when Backend is "s3".
	S3 S3Config `mapstructure:"s3" yaml:"s3,omitempty"`

	// Redis holds settings used when Backend is "redis".
	Redis RedisConfig `mapstructure:"redis" yaml:"redis,omitempty"`

	// Badger holds settings used when Backend is "badger".
	Badger BadgerConfig `mapstructure:"badger" yaml:"badger,omitempty"`
}

// RetryConfig controls retry behavior for transient store failures.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Default: 3
	MaxRetries int `mapstructure:"max_retries" validate:"omitempty,min=0,max=10" yaml:"max_retries"`

	// InitialBackoff is the delay before the first retry.
	// Default: 100ms
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"omitempty,gt=0" yaml:"initial_backoff"`

	// MaxBackoff caps the exponential backoff growth.
	// Default: 2s
	MaxBackoff time.Duration `mapstructure:"max_backoff" validate:"omitempty,gt=0" yaml:"max_backoff"`
}

// DynamoDBConfig holds DynamoDB backend settings. The table name comes from
// StoreConfig.Location.
type DynamoDBConfig struct {
	// Region is the AWS region. Empty uses the SDK default chain.
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint overrides the service endpoint (Localstack).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// S3Config holds S3 backend settings. The bucket name comes from
// StoreConfig.Location.
type S3Config struct {
	// Region is the AWS region. Empty uses the SDK default chain.
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint overrides the service endpoint (Localstack, MinIO).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// KeyPrefix is an optional prefix for all object keys.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// ForcePathStyle switches to path-style addressing, required by most
	// S3-compatible servers.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// RedisConfig holds Redis backend settings.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `mapstructure:"addr" yaml:"addr,omitempty"`

	// Password is optional.
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// DB selects the logical database.
	DB int `mapstructure:"db" yaml:"db,omitempty"`
}

// BadgerConfig holds Badger backend settings.
type BadgerConfig struct {
	// Path is the database directory. Created if it does not exist.
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// TransformConfig configures the payload transformer.
type TransformConfig struct {
	// SizeThreshold is the payload byte length above which content is
	// offloaded. Supports human-readable sizes like "4Ki". Zero forces
	// universal offloading.
	SizeThreshold bytesize.ByteSize `mapstructure:"size_threshold" yaml:"size_threshold"`

	// FineGrained replaces only oversized string fields instead of the
	// whole payload. Opt-in: it changes the shape consumers read back.
	FineGrained bool `mapstructure:"fine_grained" yaml:"fine_grained"`

	// MaxResolveDepth bounds reference indirection when resolving.
	// Default: 2
	MaxResolveDepth int `mapstructure:"max_resolve_depth" validate:"omitempty,min=1,max=8" yaml:"max_resolve_depth"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is the metrics listener address
	// Default: 127.0.0.1:9010
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (STASHPROXY_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location; a missing file is not an
// error and yields the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configFileFound {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// Viper only surfaces environment values for keys it has seen, so
	// bind the full key set explicitly; STASHPROXY_STORE_BACKEND must
	// work without any config file.
	applyEnvOverrides(v, &cfg)

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when an explicit
// config file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  stashproxy init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Config files may carry store credentials, keep them private.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the STASHPROXY_ prefix and underscores.
	// Example: STASHPROXY_STORE_BACKEND=s3
	v.SetEnvPrefix("STASHPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// applyEnvOverrides re-unmarshals over cfg after binding every known key,
// so environment variables take effect even when no config file exists.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	for _, key := range configKeys() {
		_ = v.BindEnv(key)
	}
	_ = v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks()))
}

// configKeys lists every addressable configuration key.
func configKeys() []string {
	return []string{
		"logging.level", "logging.format", "logging.output",
		"proxy.listen", "proxy.runtime_api",
		"proxy.read_header_timeout", "proxy.shutdown_timeout",
		"store.backend", "store.location", "store.retention",
		"store.timeout", "store.max_item_size",
		"store.retry.max_retries", "store.retry.initial_backoff",
		"store.retry.max_backoff",
		"store.dynamodb.region", "store.dynamodb.endpoint",
		"store.s3.region", "store.s3.endpoint",
		"store.s3.key_prefix", "store.s3.force_path_style",
		"store.redis.addr", "store.redis.password", "store.redis.db",
		"store.badger.path",
		"transform.size_threshold", "transform.fine_grained",
		"transform.max_resolve_depth",
		"metrics.enabled", "metrics.listen",
		"shutdown_timeout",
	}
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize so
// config files can use human-readable sizes like "4Ki", "384Ki", "1MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration so config files can
// use human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "stashproxy")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "stashproxy")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
