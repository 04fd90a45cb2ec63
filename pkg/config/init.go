package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented template written by `stashproxy init`.
const sampleConfig = `# stashproxy Configuration File
#
# Every option can be overridden with a STASHPROXY_* environment variable,
# e.g. STASHPROXY_STORE_BACKEND=s3 or STASHPROXY_LOGGING_LEVEL=DEBUG.

logging:
  # Minimum log level: DEBUG, INFO, WARN, ERROR
  level: INFO
  # Output format: text or json
  format: text
  # Where logs go: stderr, stdout, or a file path.
  # The handler owns stdout, so keep this on stderr.
  output: stderr

proxy:
  # Local address the intercepting server listens on.
  listen: 127.0.0.1:9009
  # The real runtime invocation API (host:port). Leave empty to take it
  # from AWS_LAMBDA_RUNTIME_API at startup.
  runtime_api: ""

store:
  # Content store backend: dynamodb, s3, badger, redis, memory
  backend: dynamodb
  # Backend namespace: DynamoDB table, S3 bucket, Redis/Badger key prefix.
  # Embedded in every reference token; readers and writers must agree.
  location: stashproxy-items
  # How long offloaded content stays retrievable.
  retention: 24h
  # Per-call timeout against the backend.
  timeout: 5s
  # Reject blobs above the backend per-item ceiling (0 disables the guard).
  max_item_size: 384Ki
  retry:
    max_retries: 3
    initial_backoff: 100ms
    max_backoff: 2s
  dynamodb:
    region: ""
    endpoint: ""
  s3:
    region: ""
    endpoint: ""
    key_prefix: ""
    force_path_style: false
  redis:
    addr: ""
    password: ""
    db: 0
  badger:
    path: ""

transform:
  # Payloads larger than this are offloaded. 0 offloads everything.
  size_threshold: 4Ki
  # Replace only oversized string fields instead of the whole payload.
  fine_grained: false
  # Maximum reference indirection when resolving.
  max_resolve_depth: 2

metrics:
  enabled: false
  listen: 127.0.0.1:9010

# Maximum time to wait for graceful shutdown.
shutdown_timeout: 10s
`

// InitConfig creates a sample configuration file at the default location.
// Returns the path written. Refuses to overwrite unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath creates a sample configuration file at the given path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
