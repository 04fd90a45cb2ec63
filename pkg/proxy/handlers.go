package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stashproxy/stashproxy/internal/logger"
	"github.com/stashproxy/stashproxy/pkg/transform"
)

// runtimeHandler intercepts the runtime invocation API exchange.
//
// Only two interaction points are transformed:
//   - GET  /<version>/runtime/invocation/next          (resolve the response)
//   - POST /<version>/runtime/invocation/<id>/response (offload the request)
//   - POST /<version>/runtime/invocation/<id>/error    (offload the request)
//
// Everything else (init errors, extension registration, unknown future
// endpoints) is forwarded verbatim so the proxy stays invisible.
type runtimeHandler struct {
	upstream    *url.URL
	client      *http.Client
	transformer *transform.Transformer
}

func newRuntimeHandler(runtimeAPI string, transformer *transform.Transformer) (*runtimeHandler, error) {
	if !strings.Contains(runtimeAPI, "://") {
		runtimeAPI = "http://" + runtimeAPI
	}
	upstream, err := url.Parse(runtimeAPI)
	if err != nil {
		return nil, fmt.Errorf("invalid runtime API address %q: %w", runtimeAPI, err)
	}

	return &runtimeHandler{
		upstream: upstream,
		// No client timeout: next-invocation long-polls until work
		// arrives. Cancellation rides on the request context instead.
		client:      &http.Client{},
		transformer: transformer,
	}, nil
}

// Next forwards the long-poll for the next invocation and resolves any
// reference tokens in the event before the handler sees it.
func (h *runtimeHandler) Next(w http.ResponseWriter, r *http.Request) {
	resp, err := h.forward(r, nil)
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.upstreamError(w, r, fmt.Errorf("failed to read upstream response: %w", err))
		return
	}

	if resp.StatusCode == http.StatusOK {
		resolved, err := h.transformer.Resolve(r.Context(), body)
		if err != nil {
			// Fail closed: the handler must not run against a
			// payload full of unresolved tokens.
			logger.Error("failed to resolve invocation payload",
				"path", r.URL.Path,
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "ContentResolutionError", err)
			return
		}
		body = resolved
	}

	relay(w, resp, body)
}

// Result offloads an oversized invocation response (or error document)
// before it reaches the runtime API's payload limit.
func (h *runtimeHandler) Result(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "RequestReadError", err)
		return
	}

	offloaded, err := h.transformer.Offload(r.Context(), body)
	if err != nil {
		// Fail closed: forwarding the oversized original would only
		// trade this error for an upstream rejection.
		logger.Error("failed to offload invocation result",
			"path", r.URL.Path,
			"bytes", len(body),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "ContentOffloadError", err)
		return
	}

	resp, err := h.forward(r, offloaded)
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		h.upstreamError(w, r, fmt.Errorf("failed to read upstream response: %w", err))
		return
	}
	relay(w, resp, respBody)
}

// Passthrough forwards any other runtime API call untouched.
func (h *runtimeHandler) Passthrough(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "RequestReadError", err)
		return
	}

	resp, err := h.forward(r, body)
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		h.upstreamError(w, r, fmt.Errorf("failed to read upstream response: %w", err))
		return
	}
	relay(w, resp, respBody)
}

// forward replays r against the upstream runtime API with the given body,
// preserving method, path, query and headers.
func (h *runtimeHandler) forward(r *http.Request, body []byte) (*http.Response, error) {
	target := *h.upstream
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	copyHeaders(req.Header, r.Header)
	if body != nil {
		req.ContentLength = int64(len(body))
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runtime API unreachable: %w", err)
	}

	logger.Debug("runtime API call forwarded",
		"method", r.Method,
		"path", r.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start).String(),
	)
	return resp, nil
}

func (h *runtimeHandler) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	logger.Error("runtime API forwarding failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	writeError(w, http.StatusBadGateway, "RuntimeUnreachable", err)
}

// relay writes an upstream response back to the local handler with the
// possibly rewritten body. Content-Length is recomputed because the
// transforms change body size.
func relay(w http.ResponseWriter, resp *http.Response, body []byte) {
	copyHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		logger.Warn("failed to write response to handler", "error", err)
	}
}

// copyHeaders copies all headers except those tied to the original body
// framing or the hop itself.
func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Connection", "Transfer-Encoding":
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// writeError emits a runtime-API-shaped error document so handlers and
// language runtimes can surface it like any other invocation API failure.
func writeError(w http.ResponseWriter, status int, errorType string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"errorMessage": err.Error(),
		"errorType":    errorType,
	})
}
