// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package ratelimit throttles per-user actions, either in memory or in
// Redis when the bot runs on more than one instance.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter reports whether an action identified by key is allowed now.
type Limiter interface {
	// Allow records an attempt and reports whether it is within limits.
	Allow(ctx context.Context, key string) (bool, error)
	// Close releases the limiter's resources.
	Close() error
}

// Memory is an in-process [Limiter] allowing one action per key per
// interval.
type Memory struct {
	interval time.Duration
	mu       sync.Mutex
	seen     map[string]time.Time

	now func() time.Time // for tests
}

// NewMemory creates a [Memory] limiter with the given minimum interval
// between actions.
func NewMemory(interval time.Duration) *Memory {
	return &Memory{
		interval: interval,
		seen:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow implements the [Limiter] interface.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if last, ok := m.seen[key]; ok && now.Sub(last) < m.interval {
		return false, nil
	}
	m.seen[key] = now

	// Opportunistically drop stale entries so the map doesn't grow
	// unbounded.
	if len(m.seen) > 10000 {
		for k, last := range m.seen {
			if now.Sub(last) >= m.interval {
				delete(m.seen, k)
			}
		}
	}
	return true, nil
}

// Close implements the [Limiter] interface.
func (m *Memory) Close() error { return nil }

// Redis is a [Limiter] backed by Redis, shared between bot instances.
type Redis struct {
	client   *redis.Client
	interval time.Duration
}

// NewRedis creates a [Redis] limiter. The connection is verified with a
// ping.
func NewRedis(ctx context.Context, redisURL string, interval time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &Redis{client: client, interval: interval}, nil
}

// Allow implements the [Limiter] interface.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, "ratelimit:"+key, 1, r.interval).Result()
}

// Close implements the [Limiter] interface.
func (r *Redis) Close() error { return r.client.Close() }
