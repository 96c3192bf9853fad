package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Deduper remembers processed event IDs so redelivered events are
// acknowledged without reprocessing. Do runs fn at most once per event ID:
// it returns already=true for a replay, and ErrEventInFlight when another
// worker holds the claim.
type Deduper interface {
	Do(ctx context.Context, eventID string, fn func() error) (already bool, err error)
}

const (
	dedupeDoneKeyPrefix  = "billing:event:done:"
	dedupeClaimKeyPrefix = "billing:event:claim:"
)

// RedisDeduper implements Deduper on Redis so dedupe state is shared across
// replicas. A claim key taken with SetNX serializes concurrent deliveries of
// the same event; a done key with a TTL covers the provider's retry horizon.
type RedisDeduper struct {
	client   *redis.Client
	doneTTL  time.Duration
	claimTTL time.Duration
}

// NewRedisDeduper creates a Redis-backed deduper
func NewRedisDeduper(client *redis.Client, doneTTL, claimTTL time.Duration) *RedisDeduper {
	if doneTTL <= 0 {
		doneTTL = 24 * time.Hour
	}
	if claimTTL <= 0 {
		claimTTL = 5 * time.Minute
	}
	return &RedisDeduper{client: client, doneTTL: doneTTL, claimTTL: claimTTL}
}

func (d *RedisDeduper) Do(ctx context.Context, eventID string, fn func() error) (bool, error) {
	doneKey := dedupeDoneKeyPrefix + eventID
	claimKey := dedupeClaimKeyPrefix + eventID

	done, err := d.client.Exists(ctx, doneKey).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe lookup failed: %w", err)
	}
	if done > 0 {
		return true, nil
	}

	claimed, err := d.client.SetNX(ctx, claimKey, "1", d.claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe claim failed: %w", err)
	}
	if !claimed {
		return false, ErrEventInFlight
	}

	if err := fn(); err != nil {
		// Release the claim so the provider's retry can run fn again
		d.client.Del(ctx, claimKey)
		return false, err
	}

	pipe := d.client.TxPipeline()
	pipe.Set(ctx, doneKey, "1", d.doneTTL)
	pipe.Del(ctx, claimKey)
	if _, err := pipe.Exec(ctx); err != nil {
		// The work is done; a failed marker write only risks one redundant
		// replay, which the store guards reject anyway.
		return false, nil
	}

	return false, nil
}

// MemoryDeduper implements Deduper with an in-process expirable LRU. It is
// the fallback when Redis is not configured; dedupe state is then per
// replica, and the store's conditional updates remain the backstop.
type MemoryDeduper struct {
	mu       sync.Mutex
	done     *lru.LRU[string, struct{}]
	inFlight map[string]struct{}
}

// NewMemoryDeduper creates an in-memory deduper remembering up to maxEntries
// processed event IDs for ttl.
func NewMemoryDeduper(maxEntries int, ttl time.Duration) *MemoryDeduper {
	if maxEntries < 128 {
		maxEntries = 128
	}
	return &MemoryDeduper{
		done:     lru.NewLRU[string, struct{}](maxEntries, nil, ttl),
		inFlight: make(map[string]struct{}),
	}
}

func (d *MemoryDeduper) Do(ctx context.Context, eventID string, fn func() error) (bool, error) {
	d.mu.Lock()
	if _, ok := d.done.Get(eventID); ok {
		d.mu.Unlock()
		return true, nil
	}
	if _, ok := d.inFlight[eventID]; ok {
		d.mu.Unlock()
		return false, ErrEventInFlight
	}
	d.inFlight[eventID] = struct{}{}
	d.mu.Unlock()

	err := fn()

	d.mu.Lock()
	delete(d.inFlight, eventID)
	if err == nil {
		d.done.Add(eventID, struct{}{})
	}
	d.mu.Unlock()

	return false, err
}
