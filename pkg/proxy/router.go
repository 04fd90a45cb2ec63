package proxy

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stashproxy/stashproxy/internal/logger"
	"github.com/stashproxy/stashproxy/pkg/transform"
)

// newRouter wires the intercepting routes.
//
// The invocation API version segment is matched as a parameter
// (currently "2018-06-01" in practice) so a runtime bump upstream does not
// break interception. No timeout middleware is installed: the
// next-invocation route long-polls by design.
func newRouter(runtimeAPI string, transformer *transform.Transformer) (http.Handler, error) {
	h, err := newRuntimeHandler(runtimeAPI, transformer)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthz)

	r.Route("/{version}/runtime", func(r chi.Router) {
		r.Get("/invocation/next", h.Next)
		r.Post("/invocation/{requestID}/response", h.Result)
		r.Post("/invocation/{requestID}/error", h.Result)
	})

	// Anything else on the runtime API surface passes through untouched.
	r.NotFound(h.Passthrough)
	r.MethodNotAllowed(h.Passthrough)

	return r, nil
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// requestLogger logs intercepted calls using the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("proxy request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("proxy request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
