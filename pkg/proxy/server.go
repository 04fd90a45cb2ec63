// Package proxy serves the local, intercepting copy of the runtime
// invocation API. The handler process talks to this server instead of the
// real runtime endpoint; payload offloading and reference resolution happen
// transparently in between.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/stashproxy/stashproxy/internal/logger"
	"github.com/stashproxy/stashproxy/pkg/transform"
)

// Server is the intercepting HTTP server.
//
// The server is created stopped; Start binds the listener and blocks until
// the context is cancelled. Because the listen port may be dynamic, Addr()
// reports the bound address once Start has been called.
type Server struct {
	server       *http.Server
	config       Config
	listener     net.Listener
	ready        chan struct{}
	shutdownOnce sync.Once
}

// NewServer creates the proxy server in a stopped state.
//
// Defaults are applied here so a zero Config works in tests.
func NewServer(config Config, transformer *transform.Transformer) (*Server, error) {
	config.applyDefaults()

	router, err := newRouter(config.RuntimeAPI, transformer)
	if err != nil {
		return nil, err
	}

	return &Server{
		server: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
		config: config,
		ready:  make(chan struct{}),
	}, nil
}

// Start binds the listener and serves until the context is cancelled.
//
// Returns nil on graceful shutdown, or an error if the listener cannot be
// bound or the server fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to bind proxy listener on %s: %w", s.config.ListenAddr, err)
	}
	s.listener = listener
	close(s.ready)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("proxy listening",
			"addr", listener.Addr().String(),
			"runtime_api", s.config.RuntimeAPI,
		)
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("proxy shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("proxy server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("proxy shutdown initiated")
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("proxy shutdown error: %w", err)
			logger.Error("proxy shutdown error", "error", err)
		} else {
			logger.Info("proxy stopped gracefully")
		}
	})
	return shutdownErr
}

// Addr blocks until the listener is bound, then returns its address.
// The context bounds the wait so a failed Start cannot hang callers.
func (s *Server) Addr(ctx context.Context) (string, error) {
	select {
	case <-s.ready:
		return s.listener.Addr().String(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
