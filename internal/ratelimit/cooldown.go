package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/healthsync/internal/domain"
)

// CooldownStore remembers that a provider asked everyone to back off.
type CooldownStore interface {
	Block(ctx context.Context, provider domain.Provider, d time.Duration) error
	Remaining(ctx context.Context, provider domain.Provider) (time.Duration, error)
}

// MemoryCooldown keeps cooldowns in process.
type MemoryCooldown struct {
	mu    sync.Mutex
	until map[domain.Provider]time.Time
	now   func() time.Time
}

// NewMemoryCooldown constructs an empty in-process store.
func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{until: make(map[domain.Provider]time.Time), now: time.Now}
}

func (m *MemoryCooldown) Block(_ context.Context, provider domain.Provider, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	until := m.now().Add(d)
	if until.After(m.until[provider]) {
		m.until[provider] = until
	}
	return nil
}

func (m *MemoryCooldown) Remaining(_ context.Context, provider domain.Provider) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	left := m.until[provider].Sub(m.now())
	if left <= 0 {
		delete(m.until, provider)
		return 0, nil
	}
	return left, nil
}

// RedisCooldown shares cooldowns across worker processes using key TTLs.
type RedisCooldown struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCooldown stores cooldown keys under prefix.
func NewRedisCooldown(client redis.Cmdable, prefix string) *RedisCooldown {
	return &RedisCooldown{client: client, prefix: prefix}
}

func (r *RedisCooldown) key(provider domain.Provider) string {
	return fmt.Sprintf("%scooldown:%s", r.prefix, provider.Slug())
}

// Block extends the cooldown to d unless a longer one is already set.
func (r *RedisCooldown) Block(ctx context.Context, provider domain.Provider, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	key := r.key(provider)
	current, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("read cooldown: %w", err)
	}
	if current >= d {
		return nil
	}
	if err := r.client.Set(ctx, key, time.Now().Add(d).UTC().Format(time.RFC3339), d).Err(); err != nil {
		return fmt.Errorf("write cooldown: %w", err)
	}
	return nil
}

func (r *RedisCooldown) Remaining(ctx context.Context, provider domain.Provider) (time.Duration, error) {
	ttl, err := r.client.PTTL(ctx, r.key(provider)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("read cooldown: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

var (
	_ CooldownStore = (*MemoryCooldown)(nil)
	_ CooldownStore = (*RedisCooldown)(nil)
)
