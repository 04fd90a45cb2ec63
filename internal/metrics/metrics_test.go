package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordOffload("size_exceeded", 1024)
		m.RecordResolve(2048)
		m.ObserveStoreOp("put", 5*time.Millisecond)
		m.RecordStoreError("get", "unavailable")
	})
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.RecordOffload("size_exceeded", 4096)
	m.RecordResolve(4096)
	m.RecordStoreError("put", "unavailable")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)

	out := string(body)
	assert.True(t, strings.Contains(out, `stashproxy_offloads_total{reason="size_exceeded"} 1`))
	assert.True(t, strings.Contains(out, "stashproxy_resolves_total 1"))
	assert.True(t, strings.Contains(out, "stashproxy_offloaded_bytes_total 4096"))
	assert.True(t, strings.Contains(out, `stashproxy_store_errors_total{kind="unavailable",op="put"} 1`))
}

func TestSeparateRegistries(t *testing.T) {
	a := New()
	b := New()
	a.RecordResolve(10)

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)

	assert.False(t, strings.Contains(string(body), "stashproxy_resolves_total 1"))
}
