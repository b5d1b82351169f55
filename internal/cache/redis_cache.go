package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Guard turns repeated triggers into a single action. Acquire reports true
// only for the first caller of a key until the TTL lapses.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type redisGuard struct {
	client *redis.Client
	prefix string
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewRedisGuard(client *redis.Client, prefix string, clock clockwork.Clock, logger *slog.Logger) Guard {
	return &redisGuard{
		client: client,
		prefix: prefix,
		clock:  clock,
		logger: logger,
	}
}

func (r *redisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, r.clock.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire guard %s: %w", key, err)
	}
	if !ok {
		r.logger.Debug("Guard already held", "key", key)
	}
	return ok, nil
}

func (r *redisGuard) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release guard %s: %w", key, err)
	}
	return nil
}

type memoryGuard struct {
	clock clockwork.Clock

	mu   sync.Mutex
	keys map[string]time.Time
}

// NewMemoryGuard returns a process-local guard. A zero TTL holds the key
// until it is released.
func NewMemoryGuard(clock clockwork.Clock) Guard {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &memoryGuard{
		clock: clock,
		keys:  make(map[string]time.Time),
	}
}

func (m *memoryGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if expiresAt, held := m.keys[key]; held && (expiresAt.IsZero() || now.Before(expiresAt)) {
		return false, nil
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	m.keys[key] = expiresAt
	return true, nil
}

func (m *memoryGuard) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}
