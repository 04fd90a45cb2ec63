package proxy

import "time"

// Config holds the intercepting proxy's settings.
type Config struct {
	// ListenAddr is the local address the proxy listens on. Port 0 picks
	// a free port; the chosen address is available from Server.Addr()
	// once Start has bound the listener.
	ListenAddr string `mapstructure:"listen" yaml:"listen"`

	// RuntimeAPI is the host:port of the real runtime invocation API the
	// proxy forwards to, typically taken from AWS_LAMBDA_RUNTIME_API.
	RuntimeAPI string `mapstructure:"runtime_api" yaml:"runtime_api"`

	// ReadHeaderTimeout bounds header reads from the local handler. The
	// proxy deliberately sets no overall read or write timeout: the
	// runtime's next-invocation call long-polls and may legitimately
	// block for minutes.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:0"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}
