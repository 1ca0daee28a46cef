package vision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingKeyPrefix = "PENDING_IMAGE_"

// PendingStore stages one decoded image per user. A new image overwrites
// any prior pending image; Take is read-once.
type PendingStore interface {
	Put(ctx context.Context, userID, payload string, ttl time.Duration) error
	Take(ctx context.Context, userID string) (string, bool, error)
	Clear(ctx context.Context, userID string) error
}

// RedisPending stages images in redis, delegating TTL expiry to the
// server.
type RedisPending struct {
	client *redis.Client
}

// NewRedisPending wraps a redis client.
func NewRedisPending(client *redis.Client) *RedisPending {
	return &RedisPending{client: client}
}

func (r *RedisPending) Put(ctx context.Context, userID, payload string, ttl time.Duration) error {
	if err := r.client.Set(ctx, pendingKeyPrefix+userID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("stage pending image: %w", err)
	}
	return nil
}

func (r *RedisPending) Take(ctx context.Context, userID string) (string, bool, error) {
	payload, err := r.client.GetDel(ctx, pendingKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("take pending image: %w", err)
	}
	return payload, true, nil
}

func (r *RedisPending) Clear(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, pendingKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("clear pending image: %w", err)
	}
	return nil
}

type pendingEntry struct {
	payload string
	expiry  time.Time
}

// MemoryPending is an in-process PendingStore with lazy expiry, used in
// tests and local development. Expiry is evaluated at read time; there is
// no background sweep.
type MemoryPending struct {
	mu      sync.Mutex
	entries map[string]pendingEntry
	now     func() time.Time
}

// NewMemoryPending creates an empty in-memory pending store.
func NewMemoryPending() *MemoryPending {
	return &MemoryPending{
		entries: make(map[string]pendingEntry),
		now:     time.Now,
	}
}

func (m *MemoryPending) Put(_ context.Context, userID, payload string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = pendingEntry{payload: payload, expiry: m.now().Add(ttl)}
	return nil
}

func (m *MemoryPending) Take(_ context.Context, userID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[userID]
	if !ok {
		return "", false, nil
	}
	delete(m.entries, userID)
	if m.now().After(entry.expiry) {
		return "", false, nil
	}
	return entry.payload, true, nil
}

func (m *MemoryPending) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	return nil
}
