package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashproxy/stashproxy/pkg/store"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := New("items")
	ctx := context.Background()

	item := store.Item{
		Blob:      []byte(`{"result": "data"}`),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.PutItem(ctx, "key-1", item))

	got, err := s.GetItem(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, item.Blob, got.Blob)

	assert.Equal(t, int64(1), s.PutCalls())
	assert.Equal(t, int64(1), s.GetCalls())
}

func TestGetMissingKey(t *testing.T) {
	s := New("items")

	_, err := s.GetItem(context.Background(), "never-written")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExpiredItemIsNotFound(t *testing.T) {
	s := New("items")
	ctx := context.Background()

	now := time.Now()
	item := store.Item{
		Blob:      []byte("stale"),
		CreatedAt: now.Add(-25 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	require.NoError(t, s.PutItem(ctx, "old", item))

	_, err := s.GetItem(ctx, "old")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClockControlsExpiry(t *testing.T) {
	s := New("items")
	ctx := context.Background()

	now := time.Now()
	item := store.Item{Blob: []byte("x"), CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, s.PutItem(ctx, "k", item))

	_, err := s.GetItem(ctx, "k")
	require.NoError(t, err)

	s.SetClock(func() time.Time { return now.Add(2 * time.Minute) })
	_, err = s.GetItem(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentUse(t *testing.T) {
	s := New("items")
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				key := string(rune('a'+n)) + "-key"
				item := store.Item{Blob: []byte("v"), CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
				_ = s.PutItem(ctx, key, item)
				_, _ = s.GetItem(ctx, key)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Equal(t, 8, s.Len())
}
