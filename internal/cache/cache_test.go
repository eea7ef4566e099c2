package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fl2m/platform/internal/app/domain/draw"
)

func TestMemoryCacheExpiry(t *testing.T) {
	m := NewMemory()
	clock := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	ctx := context.Background()

	res := draw.Result{Identity: "u1", Date: "2026-10-19", Number: 7, Message: draw.Message{ID: "m7"}}
	require.NoError(t, m.Set(ctx, res, time.Hour))

	got, ok, err := m.Get(ctx, "u1", clock)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m7", got.Message.ID)

	_, ok, _ = m.Get(ctx, "u1", clock.AddDate(0, 0, 1))
	assert.False(t, ok, "other day must miss")

	clock = clock.Add(2 * time.Hour)
	_, ok, _ = m.Get(ctx, "u1", clock)
	assert.False(t, ok, "expired entry must miss")
}

func TestUntilEndOfDay(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	now := time.Date(2026, 10, 19, 21, 30, 0, 0, paris)
	assert.Equal(t, 2*time.Hour+30*time.Minute, UntilEndOfDay(now, paris))
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set; skipping redis integration test")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, url)
	require.NoError(t, err)
	defer r.Close()

	day := time.Now()
	res := draw.Result{Identity: "redis-test", Date: draw.DateKey(day), Number: 3}
	require.NoError(t, r.Set(ctx, res, time.Minute))
	got, ok, err := r.Get(ctx, "redis-test", day)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.Number)
}
