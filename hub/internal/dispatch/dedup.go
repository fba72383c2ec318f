package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers which outcome hashes have been applied so retried
// reports become no-ops.
type Deduper interface {
	// FirstApplication records the (plan, hash) pair and reports whether
	// this is the first time it was seen.
	FirstApplication(ctx context.Context, planID, hash string) (bool, error)

	// Release forgets a recorded (plan, hash) pair. Called when the state
	// update behind a first application did not commit, so the agent's
	// retried report is applied instead of treated as a duplicate.
	Release(ctx context.Context, planID, hash string) error
}

const dedupKeyPrefix = "deployhub:outcome:"

// DefaultDedupTTL keeps applied hashes long past any realistic agent retry
// horizon.
const DefaultDedupTTL = 7 * 24 * time.Hour

// RedisDeduper deduplicates via SETNX so the check-and-record is atomic
// across hub replicas.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a Redis-backed deduper. A zero TTL uses
// DefaultDedupTTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) FirstApplication(ctx context.Context, planID, hash string) (bool, error) {
	return d.client.SetNX(ctx, dedupKeyPrefix+planID+":"+hash, 1, d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, planID, hash string) error {
	return d.client.Del(ctx, dedupKeyPrefix+planID+":"+hash).Err()
}

// MemoryDeduper is the fallback when Redis is not configured. Single-replica
// only; the set grows unbounded for the process lifetime, which is
// acceptable at plan-report volumes.
type MemoryDeduper struct {
	mu      sync.Mutex
	applied map[string]struct{}
}

// NewMemoryDeduper creates an empty in-memory deduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{applied: make(map[string]struct{})}
}

func (d *MemoryDeduper) FirstApplication(ctx context.Context, planID, hash string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := planID + ":" + hash
	if _, seen := d.applied[key]; seen {
		return false, nil
	}
	d.applied[key] = struct{}{}
	return true, nil
}

func (d *MemoryDeduper) Release(ctx context.Context, planID, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.applied, planID+":"+hash)
	return nil
}
