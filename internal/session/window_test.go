package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestIsInWindow(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := now.Add(-d); return &v }

	assert.False(t, IsInWindow(nil, now))
	assert.True(t, IsInWindow(at(0), now))
	assert.True(t, IsInWindow(at(23*time.Hour), now))
	assert.True(t, IsInWindow(at(24*time.Hour-time.Nanosecond), now))
	assert.False(t, IsInWindow(at(24*time.Hour), now))
	assert.False(t, IsInWindow(at(25*time.Hour), now))
}

func trackers(t *testing.T) map[string]*Tracker {
	client, _ := setupTestRedis(t)
	return map[string]*Tracker{
		"memory": NewTracker(NewMemoryStore()),
		"redis":  NewTracker(NewRedisStore(client)),
	}
}

func TestTracker_RecordThenWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			in, err := tr.InWindow(ctx, "client-1", now)
			require.NoError(t, err)
			assert.False(t, in, "never wrote in")

			require.NoError(t, tr.RecordInbound(ctx, "client-1", now))

			in, err = tr.InWindow(ctx, "client-1", now)
			require.NoError(t, err)
			assert.True(t, in)

			in, err = tr.InWindow(ctx, "client-1", now.Add(24*time.Hour))
			require.NoError(t, err)
			assert.False(t, in)

			last, err := tr.LastInbound(ctx, "client-1")
			require.NoError(t, err)
			require.NotNil(t, last)
			assert.True(t, last.Equal(now))
		})
	}
}

func TestTracker_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	first := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	second := first.Add(3 * time.Hour)

	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, tr.RecordInbound(ctx, "c", first))
			require.NoError(t, tr.RecordInbound(ctx, "c", second))
			last, err := tr.LastInbound(ctx, "c")
			require.NoError(t, err)
			assert.True(t, last.Equal(second))
		})
	}
}

func TestRedisStore_TTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedisStore(client)
	require.NoError(t, store.SetLastInbound(context.Background(), "c", time.Now()))
	assert.Equal(t, keyTTL, mr.TTL("chat:last_inbound:c"))

	mr.FastForward(keyTTL + time.Second)
	last, err := store.GetLastInbound(context.Background(), "c")
	require.NoError(t, err)
	assert.Nil(t, last)
}
