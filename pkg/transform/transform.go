// Package transform rewrites payloads in both directions: offload replaces
// oversized content with reference tokens on the way out, resolve splices
// stored content back in place of tokens on the way in.
//
// The payload is parsed once into a JSON value tree and walked; it is never
// re-parsed per field. Both directions are idempotent: offloading an
// already-small payload and resolving a token-free payload return the input
// bytes untouched.
package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stashproxy/stashproxy/internal/logger"
	"github.com/stashproxy/stashproxy/internal/metrics"
	"github.com/stashproxy/stashproxy/pkg/policy"
	"github.com/stashproxy/stashproxy/pkg/reference"
	"github.com/stashproxy/stashproxy/pkg/store"
)

// WrapperKey is the single field of the fixed wrapper shape that replaces a
// whole offloaded payload.
const WrapperKey = "content_reference"

// Config configures the transformer.
type Config struct {
	// Threshold is the byte length above which payloads (or, in
	// fine-grained mode, string fields) are offloaded. Zero forces
	// universal offloading.
	Threshold int

	// FineGrained switches the offload direction from whole-payload
	// replacement to per-field replacement of oversized string leaves.
	// Opt-in: it changes the wire shape the handler must expect on
	// read-back.
	FineGrained bool

	// MaxResolveDepth bounds reference chains. The store contract
	// requires at most one indirection level, so the default of 2 allows
	// a referenced payload to itself carry references once; anything
	// deeper fails with ErrDepthExceeded instead of looping.
	MaxResolveDepth int
}

func (c *Config) applyDefaults() {
	if c.MaxResolveDepth <= 0 {
		c.MaxResolveDepth = 2
	}
}

// Transformer applies the two directions against one content store client.
// Immutable after construction, safe for concurrent use.
type Transformer struct {
	client  *store.Client
	cfg     Config
	metrics *metrics.Metrics
}

// New creates a Transformer. The metrics collector may be nil.
func New(client *store.Client, cfg Config, m *metrics.Metrics) *Transformer {
	cfg.applyDefaults()
	return &Transformer{client: client, cfg: cfg, metrics: m}
}

// Offload applies the outgoing direction to body and returns the
// replacement payload. Payloads at or below the threshold come back
// unchanged with zero store interaction.
func (t *Transformer) Offload(ctx context.Context, body []byte) ([]byte, error) {
	decision := policy.Decide(len(body), t.cfg.Threshold)
	if !decision.Offload {
		logger.Debug("payload passed through",
			"reason", decision.Reason,
			"bytes", len(body),
		)
		t.metrics.RecordOffload(string(decision.Reason), 0)
		return body, nil
	}

	// Offloading an already-offloaded wrapper would chain references.
	if isWrapper(body) {
		return body, nil
	}

	if t.cfg.FineGrained {
		if out, ok, err := t.offloadFields(ctx, body); err != nil {
			return nil, err
		} else if ok {
			return out, nil
		}
		// Not a JSON tree; fall through to whole-payload offload.
	}

	token, err := t.put(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("failed to offload payload: %w", err)
	}

	out, err := json.Marshal(map[string]string{WrapperKey: token})
	if err != nil {
		return nil, fmt.Errorf("failed to encode reference wrapper: %w", err)
	}

	logger.Info("payload offloaded",
		"reason", decision.Reason,
		"bytes_in", len(body),
		"bytes_out", len(out),
		"token", token,
	)
	t.metrics.RecordOffload(string(decision.Reason), len(body))
	return out, nil
}

// offloadFields walks the parsed JSON tree and replaces oversized string
// leaves. The second return value reports whether the body was a JSON tree
// at all.
func (t *Transformer) offloadFields(ctx context.Context, body []byte) ([]byte, bool, error) {
	var tree any
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, false, nil
	}
	switch tree.(type) {
	case map[string]any, []any:
	default:
		return nil, false, nil
	}

	replaced := 0
	visited, err := t.offloadValue(ctx, tree, &replaced)
	if err != nil {
		return nil, true, err
	}
	if replaced == 0 {
		// Every field fits; keep the original bytes.
		return body, true, nil
	}

	out, err := json.Marshal(visited)
	if err != nil {
		return nil, true, fmt.Errorf("failed to encode offloaded payload: %w", err)
	}

	logger.Info("payload fields offloaded",
		"reason", policy.ReasonSizeExceeded,
		"fields", replaced,
		"bytes_in", len(body),
		"bytes_out", len(out),
	)
	return out, true, nil
}

func (t *Transformer) offloadValue(ctx context.Context, v any, replaced *int) (any, error) {
	switch val := v.(type) {
	case string:
		if !policy.Decide(len(val), t.cfg.Threshold).Offload {
			return val, nil
		}
		if _, ok := reference.Parse(val); ok {
			// Already a token from an earlier pass.
			return val, nil
		}
		token, err := t.put(ctx, []byte(val))
		if err != nil {
			return nil, fmt.Errorf("failed to offload field: %w", err)
		}
		*replaced++
		t.metrics.RecordOffload(string(policy.ReasonSizeExceeded), len(val))
		return token, nil

	case map[string]any:
		for k, child := range val {
			out, err := t.offloadValue(ctx, child, replaced)
			if err != nil {
				return nil, err
			}
			val[k] = out
		}
		return val, nil

	case []any:
		for i, child := range val {
			out, err := t.offloadValue(ctx, child, replaced)
			if err != nil {
				return nil, err
			}
			val[i] = out
		}
		return val, nil

	default:
		return val, nil
	}
}

// Resolve applies the incoming direction to body. Token-free payloads come
// back unchanged byte for byte, which also makes Resolve idempotent.
func (t *Transformer) Resolve(ctx context.Context, body []byte) ([]byte, error) {
	// Cheap scan: most payloads carry no references at all.
	if !bytes.Contains(body, []byte(reference.Prefix)) {
		return body, nil
	}

	// Whole-payload wrapper shape first.
	if token, ok := wrapperToken(body); ok {
		blob, err := t.get(ctx, token)
		if err != nil {
			return nil, err
		}
		return t.resolveBlob(ctx, blob, 1)
	}

	// Raw token as the entire body.
	if ref, ok := reference.Parse(string(bytes.TrimSpace(body))); ok {
		blob, err := t.get(ctx, ref.String())
		if err != nil {
			return nil, err
		}
		return t.resolveBlob(ctx, blob, 1)
	}

	var tree any
	if err := json.Unmarshal(body, &tree); err != nil {
		// Not JSON and not a bare token: nothing to resolve.
		return body, nil
	}

	resolved := 0
	out, err := t.resolveValue(ctx, tree, 1, &resolved)
	if err != nil {
		return nil, err
	}
	if resolved == 0 {
		return body, nil
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resolved payload: %w", err)
	}
	return encoded, nil
}

// resolveBlob post-processes a fetched blob: if it is JSON that itself
// carries references, they are resolved one level deeper; otherwise the
// blob's original bytes are returned untouched.
func (t *Transformer) resolveBlob(ctx context.Context, blob []byte, depth int) ([]byte, error) {
	if !bytes.Contains(blob, []byte(reference.Prefix)) {
		return blob, nil
	}

	var tree any
	if err := json.Unmarshal(blob, &tree); err != nil {
		return blob, nil
	}

	resolved := 0
	out, err := t.resolveValue(ctx, tree, depth+1, &resolved)
	if err != nil {
		return nil, err
	}
	if resolved == 0 {
		return blob, nil
	}
	return json.Marshal(out)
}

func (t *Transformer) resolveValue(ctx context.Context, v any, depth int, resolved *int) (any, error) {
	switch val := v.(type) {
	case string:
		ref, ok := reference.Parse(val)
		if !ok {
			return val, nil
		}
		// The bound applies to tokens actually followed, not to how deep
		// the walk re-enters fetched content that carries none.
		if depth > t.cfg.MaxResolveDepth {
			return nil, store.ErrDepthExceeded
		}
		blob, err := t.get(ctx, ref.String())
		if err != nil {
			return nil, err
		}
		*resolved++

		var parsed any
		if err := json.Unmarshal(blob, &parsed); err != nil {
			// Not JSON: splice as a raw string.
			return string(blob), nil
		}
		return t.resolveValue(ctx, parsed, depth+1, resolved)

	case map[string]any:
		for k, child := range val {
			out, err := t.resolveValue(ctx, child, depth, resolved)
			if err != nil {
				return nil, err
			}
			val[k] = out
		}
		return val, nil

	case []any:
		for i, child := range val {
			out, err := t.resolveValue(ctx, child, depth, resolved)
			if err != nil {
				return nil, err
			}
			val[i] = out
		}
		return val, nil

	default:
		return val, nil
	}
}

// put stores a blob and records timing.
func (t *Transformer) put(ctx context.Context, blob []byte) (string, error) {
	start := time.Now()
	token, err := t.client.Put(ctx, blob)
	t.metrics.ObserveStoreOp("put", time.Since(start))
	if err != nil {
		t.metrics.RecordStoreError("put", errorKind(err))
	}
	return token, err
}

// get fetches a blob by token string and records timing.
func (t *Transformer) get(ctx context.Context, token string) ([]byte, error) {
	ref, ok := reference.Parse(token)
	if !ok {
		return nil, store.NewStoreError("get", t.client.Backend(), "", store.ErrMalformedReference)
	}

	start := time.Now()
	blob, err := t.client.Get(ctx, ref)
	t.metrics.ObserveStoreOp("get", time.Since(start))
	if err != nil {
		t.metrics.RecordStoreError("get", errorKind(err))
		return nil, err
	}

	logger.Info("reference resolved",
		"token", token,
		"bytes_out", len(blob),
	)
	t.metrics.RecordResolve(len(blob))
	return blob, nil
}

// errorKind maps a store failure onto a stable metrics label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, store.ErrMalformedReference):
		return "malformed_reference"
	case errors.Is(err, store.ErrTooLarge):
		return "too_large"
	case errors.Is(err, store.ErrDepthExceeded):
		return "depth_exceeded"
	default:
		return "other"
	}
}

// isWrapper reports whether body is exactly the offload wrapper shape.
func isWrapper(body []byte) bool {
	_, ok := wrapperToken(body)
	return ok
}

// wrapperToken extracts the token from a `{"content_reference": "..."}`
// body. Objects with any other fields are not wrappers.
func wrapperToken(body []byte) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", false
	}
	if len(obj) != 1 {
		return "", false
	}
	raw, ok := obj[WrapperKey]
	if !ok {
		return "", false
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return "", false
	}
	if _, ok := reference.Parse(token); !ok {
		return "", false
	}
	return token, true
}
