package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	webhookEventKeyPrefix = "webhook:event:"
	webhookEventTTL       = 72 * time.Hour
)

// Deduper remembers webhook event ids already taken for processing.
type Deduper interface {
	// First reports whether id is seen for the first time and marks it.
	First(ctx context.Context, id string) (bool, error)
	// Forget unmarks id so a redelivery is processed again.
	Forget(ctx context.Context, id string) error
}

// RedisDeduper shares seen event ids across instances.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: webhookEventTTL}
}

func (d *RedisDeduper) First(ctx context.Context, id string) (bool, error) {
	ok, err := d.client.SetNX(ctx, webhookEventKeyPrefix+id, time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark webhook event %s: %w", id, err)
	}
	return ok, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, id string) error {
	if err := d.client.Del(ctx, webhookEventKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("forget webhook event %s: %w", id, err)
	}
	return nil
}

// MemoryDeduper remembers recent event ids in process.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

func NewMemoryDeduper(size int, ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{seen: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (d *MemoryDeduper) First(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen.Contains(id) {
		return false, nil
	}
	d.seen.Add(id, struct{}{})
	return true, nil
}

func (d *MemoryDeduper) Forget(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.Remove(id)
	return nil
}
