package config

import (
	"os"
	"strings"
	"time"

	"github.com/stashproxy/stashproxy/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false) are replaced with defaults; explicit values are
// preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyProxyDefaults(cfg)
	applyStoreDefaults(&cfg.Store)
	applyTransformDefaults(&cfg.Transform)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		// stdout belongs to the handler process.
		cfg.Output = "stderr"
	}
}

func applyProxyDefaults(cfg *Config) {
	if cfg.Proxy.ListenAddr == "" {
		cfg.Proxy.ListenAddr = "127.0.0.1:9009"
	}
	if cfg.Proxy.RuntimeAPI == "" {
		// In a deployed function this is the real invocation API the
		// process was started against.
		cfg.Proxy.RuntimeAPI = os.Getenv("AWS_LAMBDA_RUNTIME_API")
	}
	if cfg.Proxy.ReadHeaderTimeout == 0 {
		cfg.Proxy.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Proxy.ShutdownTimeout == 0 {
		cfg.Proxy.ShutdownTimeout = 5 * time.Second
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "dynamodb"
	}
	if cfg.Location == "" {
		cfg.Location = "stashproxy-items"
	}
	if cfg.Retention == 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = 2 * time.Second
	}
}

func applyTransformDefaults(cfg *TransformConfig) {
	// SizeThreshold zero is meaningful (offload everything), so no
	// default is applied there.
	if cfg.MaxResolveDepth == 0 {
		cfg.MaxResolveDepth = 2
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:9010"
	}
}

// GetDefaultConfig returns a Config with all default values applied.
// This is what `stashproxy init` writes out.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Transform: TransformConfig{
			SizeThreshold: bytesize.ByteSize(4 * 1024),
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
