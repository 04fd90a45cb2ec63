package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashproxy/stashproxy/pkg/reference"
	"github.com/stashproxy/stashproxy/pkg/store"
	"github.com/stashproxy/stashproxy/pkg/store/memory"
	"github.com/stashproxy/stashproxy/pkg/transform"
)

// fakeRuntime simulates the upstream runtime invocation API and records
// what the proxy forwarded to it.
type fakeRuntime struct {
	mu        sync.Mutex
	nextBody  []byte
	nextCode  int
	received  map[string][]byte
	callCount int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		nextCode: http.StatusOK,
		received: make(map[string][]byte),
	}
}

func (f *fakeRuntime) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.callCount++

		body, _ := io.ReadAll(r.Body)
		f.received[r.Method+" "+r.URL.Path] = body

		if strings.HasSuffix(r.URL.Path, "/invocation/next") {
			w.Header().Set("Lambda-Runtime-Aws-Request-Id", "req-123")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.nextCode)
			_, _ = w.Write(f.nextBody)
			return
		}

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	})
}

func (f *fakeRuntime) setNextBody(body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextBody = body
}

func (f *fakeRuntime) forwarded(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.received[key]
	return b, ok
}

func (f *fakeRuntime) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// newTestProxy wires a router against the fake runtime on top of an
// in-memory store and returns everything a test needs.
func newTestProxy(t *testing.T, rt *fakeRuntime, threshold int) (*httptest.Server, *memory.Store, *store.Client) {
	t.Helper()

	upstream := httptest.NewServer(rt.handler())
	t.Cleanup(upstream.Close)
	u, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	backend := memory.New("test-bucket")
	client := store.NewClient(backend, store.ClientConfig{
		Retry: store.RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	transformer := transform.New(client, transform.Config{Threshold: threshold}, nil)

	router, err := newRouter(u.Host, transformer)
	require.NoError(t, err)

	proxy := httptest.NewServer(router)
	t.Cleanup(proxy.Close)
	return proxy, backend, client
}

func TestNextResolvesReferences(t *testing.T) {
	rt := newFakeRuntime()
	proxy, backend, client := newTestProxy(t, rt, 1024)

	original := []byte(`{"records":["` + strings.Repeat("a", 2000) + `"]}`)
	token, err := client.Put(context.Background(), original)
	require.NoError(t, err)
	wrapper, err := json.Marshal(map[string]string{transform.WrapperKey: token})
	require.NoError(t, err)
	rt.setNextBody(wrapper)

	resp, err := http.Get(proxy.URL + "/2018-06-01/runtime/invocation/next")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, original, body, "handler must see the restored payload")
	assert.Equal(t, "req-123", resp.Header.Get("Lambda-Runtime-Aws-Request-Id"),
		"runtime headers must survive the rewrite")
	assert.Equal(t, int64(len(original)), resp.ContentLength)
	assert.Equal(t, int64(1), backend.GetCalls())
}

func TestNextPassThrough(t *testing.T) {
	rt := newFakeRuntime()
	event := []byte(`{"small":"event"}`)
	rt.setNextBody(event)
	proxy, backend, _ := newTestProxy(t, rt, 1024)

	resp, err := http.Get(proxy.URL + "/2018-06-01/runtime/invocation/next")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, event, body)
	assert.Zero(t, backend.GetCalls())
}

func TestResponseOffloadsOversizedBody(t *testing.T) {
	rt := newFakeRuntime()
	proxy, backend, client := newTestProxy(t, rt, 1024)

	result := []byte(`{"output":"` + strings.Repeat("b", 5000) + `"}`)
	resp, err := http.Post(
		proxy.URL+"/2018-06-01/runtime/invocation/req-123/response",
		"application/json",
		strings.NewReader(string(result)),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode, "upstream status must be relayed")
	assert.Equal(t, int64(1), backend.PutCalls())

	forwarded, ok := rt.forwarded("POST /2018-06-01/runtime/invocation/req-123/response")
	require.True(t, ok, "upstream must receive the rewritten body")

	var wrapper map[string]string
	require.NoError(t, json.Unmarshal(forwarded, &wrapper))
	ref, ok := reference.Parse(wrapper[transform.WrapperKey])
	require.True(t, ok)

	stored, err := client.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, result, stored)
}

func TestResponsePassThroughSmallBody(t *testing.T) {
	rt := newFakeRuntime()
	proxy, backend, _ := newTestProxy(t, rt, 1024)

	result := []byte(`{"output":"small"}`)
	resp, err := http.Post(
		proxy.URL+"/2018-06-01/runtime/invocation/req-123/response",
		"application/json",
		strings.NewReader(string(result)),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	forwarded, ok := rt.forwarded("POST /2018-06-01/runtime/invocation/req-123/response")
	require.True(t, ok)
	assert.Equal(t, result, forwarded)
	assert.Zero(t, backend.PutCalls())
}

func TestErrorRouteOffloads(t *testing.T) {
	rt := newFakeRuntime()
	proxy, backend, _ := newTestProxy(t, rt, 64)

	errDoc := []byte(`{"errorMessage":"` + strings.Repeat("e", 500) + `","errorType":"Function.Error"}`)
	resp, err := http.Post(
		proxy.URL+"/2018-06-01/runtime/invocation/req-123/error",
		"application/json",
		strings.NewReader(string(errDoc)),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, int64(1), backend.PutCalls())
}

func TestResponseFailsClosedOnStoreError(t *testing.T) {
	rt := newFakeRuntime()
	proxy, backend, _ := newTestProxy(t, rt, 64)
	backend.FailPutWith = store.ErrUnavailable

	resp, err := http.Post(
		proxy.URL+"/2018-06-01/runtime/invocation/req-123/response",
		"application/json",
		strings.NewReader(`{"output":"`+strings.Repeat("c", 500)+`"}`),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Zero(t, rt.calls(), "upstream must not see the oversized original")

	var doc map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "ContentOffloadError", doc["errorType"])
}

func TestNextFailsClosedOnMissingContent(t *testing.T) {
	rt := newFakeRuntime()
	proxy, _, _ := newTestProxy(t, rt, 1024)

	// A token whose content was never stored (or already expired).
	token := reference.Encode("memory", "test-bucket", reference.NewKey())
	wrapper, err := json.Marshal(map[string]string{transform.WrapperKey: token})
	require.NoError(t, err)
	rt.setNextBody(wrapper)

	resp, err := http.Get(proxy.URL + "/2018-06-01/runtime/invocation/next")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var doc map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "ContentResolutionError", doc["errorType"])
}

func TestUnknownRoutesPassThrough(t *testing.T) {
	rt := newFakeRuntime()
	proxy, backend, _ := newTestProxy(t, rt, 16)

	body := `{"errorMessage":"boot failure that is quite long indeed","errorType":"Runtime.Boot"}`
	resp, err := http.Post(
		proxy.URL+"/2018-06-01/runtime/init/error",
		"application/json",
		strings.NewReader(body),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	forwarded, ok := rt.forwarded("POST /2018-06-01/runtime/init/error")
	require.True(t, ok)
	assert.Equal(t, []byte(body), forwarded, "init errors are never transformed")
	assert.Zero(t, backend.PutCalls())
}

func TestRuntimeUnreachable(t *testing.T) {
	backend := memory.New("test-bucket")
	client := store.NewClient(backend, store.ClientConfig{})
	transformer := transform.New(client, transform.Config{Threshold: 1024}, nil)

	router, err := newRouter("127.0.0.1:1", transformer)
	require.NoError(t, err)
	proxy := httptest.NewServer(router)
	defer proxy.Close()

	resp, err := http.Get(proxy.URL + "/2018-06-01/runtime/invocation/next")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	rt := newFakeRuntime()
	proxy, _, _ := newTestProxy(t, rt, 1024)

	resp, err := http.Get(proxy.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "ok", doc["status"])
}

func TestServerStartStop(t *testing.T) {
	backend := memory.New("test-bucket")
	client := store.NewClient(backend, store.ClientConfig{})
	transformer := transform.New(client, transform.Config{Threshold: 1024}, nil)

	srv, err := NewServer(Config{RuntimeAPI: "127.0.0.1:9001"}, transformer)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	addrCtx, addrCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer addrCancel()
	addr, err := srv.Addr(addrCtx)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
