package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL        = 10 * time.Minute
	defaultMaxEntries = 8192
	keyPrefix         = "statetrail:webhook:"
)

// ErrReplayed is returned when a message id was already claimed inside the
// replay window.
var ErrReplayed = errors.New("message already delivered")

// Guard claims webhook message ids. Release gives a claim back so that a
// delivery which failed to process can be retried by the sender.
type Guard interface {
	Claim(ctx context.Context, msgID string) error
	Release(ctx context.Context, msgID string) error
}

// redisCmdable is the subset of redis.Cmdable the guard uses.
type redisCmdable interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisGuard struct {
	client redisCmdable
	ttl    time.Duration
}

// NewRedisGuard claims ids with SET NX so the window is shared across replicas.
func NewRedisGuard(client redisCmdable, ttl time.Duration) Guard {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisGuard{client: client, ttl: ttl}
}

func (g *redisGuard) Claim(ctx context.Context, msgID string) error {
	key, err := redisKey(msgID)
	if err != nil {
		return err
	}
	ok, err := g.client.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		return fmt.Errorf("claiming message id: %w", err)
	}
	if !ok {
		return ErrReplayed
	}
	return nil
}

func (g *redisGuard) Release(ctx context.Context, msgID string) error {
	key, err := redisKey(msgID)
	if err != nil {
		return err
	}
	if err := g.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("releasing message id: %w", err)
	}
	return nil
}

func redisKey(msgID string) (string, error) {
	msgID = strings.TrimSpace(msgID)
	if msgID == "" {
		return "", fmt.Errorf("replay: message id is required")
	}
	return keyPrefix + msgID, nil
}

// MemoryGuard is a process local ledger bounded to maxEntries ids.
type MemoryGuard struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]time.Time
	Now        func() time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryGuard{
		ttl:        ttl,
		maxEntries: defaultMaxEntries,
		entries:    map[string]time.Time{},
		Now:        time.Now,
	}
}

func (g *MemoryGuard) Claim(_ context.Context, msgID string) error {
	msgID = strings.TrimSpace(msgID)
	if msgID == "" {
		return fmt.Errorf("replay: message id is required")
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.pruneLocked(now)
	if expiresAt, ok := g.entries[msgID]; ok && now.Before(expiresAt) {
		return ErrReplayed
	}
	for len(g.entries) >= g.maxEntries {
		g.evictOldestLocked()
	}
	g.entries[msgID] = now.Add(g.ttl)
	return nil
}

func (g *MemoryGuard) Release(_ context.Context, msgID string) error {
	g.mu.Lock()
	delete(g.entries, strings.TrimSpace(msgID))
	g.mu.Unlock()
	return nil
}

func (g *MemoryGuard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *MemoryGuard) pruneLocked(now time.Time) {
	for key, expiresAt := range g.entries {
		if !now.Before(expiresAt) {
			delete(g.entries, key)
		}
	}
}

func (g *MemoryGuard) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, expiresAt := range g.entries {
		if oldestKey == "" || expiresAt.Before(oldest) {
			oldestKey, oldest = key, expiresAt
		}
	}
	delete(g.entries, oldestKey)
}
