package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stashproxy/stashproxy/internal/logger"
	"github.com/stashproxy/stashproxy/internal/metrics"
	"github.com/stashproxy/stashproxy/pkg/config"
	"github.com/stashproxy/stashproxy/pkg/proxy"
	"github.com/stashproxy/stashproxy/pkg/store"
	"github.com/stashproxy/stashproxy/pkg/transform"
)

// environment holds everything a serving command needs after setup.
type environment struct {
	cfg     *config.Config
	backend store.Backend
	server  *proxy.Server
	metrics *metrics.Metrics
}

// setup loads configuration, initializes logging, and wires the store
// client, transformer and proxy server together.
func setup(ctx context.Context) (*environment, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("configuration loaded",
		"store_backend", cfg.Store.Backend,
		"store_location", cfg.Store.Location,
		"size_threshold", cfg.Transform.SizeThreshold.String(),
		"fine_grained", cfg.Transform.FineGrained,
	)

	if cfg.Proxy.RuntimeAPI == "" {
		return nil, fmt.Errorf("runtime API address not configured: set proxy.runtime_api or AWS_LAMBDA_RUNTIME_API")
	}

	client, backend, err := config.CreateClient(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	transformer := transform.New(client, transform.Config{
		Threshold:       cfg.Transform.SizeThreshold.Int(),
		FineGrained:     cfg.Transform.FineGrained,
		MaxResolveDepth: cfg.Transform.MaxResolveDepth,
	}, m)

	server, err := proxy.NewServer(cfg.Proxy, transformer)
	if err != nil {
		_ = config.CloseBackend(backend)
		return nil, err
	}

	return &environment{
		cfg:     cfg,
		backend: backend,
		server:  server,
		metrics: m,
	}, nil
}

// close releases backend resources.
func (e *environment) close() {
	if err := config.CloseBackend(e.backend); err != nil {
		logger.Warn("store backend close error", "error", err)
	}
}

// serveMetrics runs the Prometheus listener until the context is cancelled.
// Failures are logged, not fatal: losing metrics must never take the proxy
// down with it.
func (e *environment) serveMetrics(ctx context.Context) {
	if e.metrics == nil {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.metrics.Handler())

	srv := &http.Server{
		Addr:              e.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("metrics listening", "addr", e.cfg.Metrics.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
}
