// Package cache stores served daily draws so repeat requests during the day
// skip the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fl2m/platform/internal/app/domain/draw"
)

// DrawCache caches a draw result per identity and day.
type DrawCache interface {
	Get(ctx context.Context, identity string, day time.Time) (draw.Result, bool, error)
	Set(ctx context.Context, result draw.Result, ttl time.Duration) error
}

func key(identity, day string) string {
	return fmt.Sprintf("fl2m:draw:%s:%s", day, identity)
}

// Redis is a DrawCache backed by Redis.
type Redis struct {
	client *redis.Client
}

// NewRedis parses a redis:// URL and returns a connected cache.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, identity string, day time.Time) (draw.Result, bool, error) {
	raw, err := r.client.Get(ctx, key(identity, draw.DateKey(day))).Bytes()
	if errors.Is(err, redis.Nil) {
		return draw.Result{}, false, nil
	}
	if err != nil {
		return draw.Result{}, false, err
	}
	var res draw.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return draw.Result{}, false, err
	}
	return res, true, nil
}

func (r *Redis) Set(ctx context.Context, result draw.Result, ttl time.Duration) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key(result.Identity, result.Date), raw, ttl).Err()
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Memory is an in-process DrawCache.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	result  draw.Result
	expires time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, identity string, day time.Time) (draw.Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(identity, draw.DateKey(day))
	e, ok := m.entries[k]
	if !ok {
		return draw.Result{}, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, k)
		return draw.Result{}, false, nil
	}
	return e.result, true, nil
}

func (m *Memory) Set(_ context.Context, result draw.Result, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{result: result}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key(result.Identity, result.Date)] = e
	return nil
}

// UntilEndOfDay returns the TTL from now to the next midnight in loc.
func UntilEndOfDay(now time.Time, loc *time.Location) time.Duration {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return midnight.Sub(local)
}
