package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/pharma-scheduling/internal/analytics"
	"github.com/wolfman30/pharma-scheduling/internal/pharma"
)

// SchedulingContext is everything slot detection and scoring needs for one activity and date range.
type SchedulingContext struct {
	Activity     pharma.Activity       `json:"activity"`
	Appointments []pharma.Appointment  `json:"appointments"`
	Rules        []pharma.BusinessRule `json:"rules"`
	// StaffAvailability maps "YYYY-MM-DD" to the percentage of staff free that day.
	StaffAvailability map[string]float64 `json:"staff_availability"`
	Popularity        analytics.Patterns `json:"popularity"`
	BuiltAt           time.Time          `json:"built_at"`
}

// ContextCache stores built contexts for a short TTL. Implementations may be stale by up to the TTL.
type ContextCache interface {
	Get(ctx context.Context, key string) (*SchedulingContext, bool, error)
	Set(ctx context.Context, key string, sc *SchedulingContext, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

const contextKeyPrefix = "availability:ctx:"

func contextKey(activityID string, start, end time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s", contextKeyPrefix, activityID, pharma.DateKey(start), pharma.DateKey(end))
}

func activityKeyPrefix(activityID string) string {
	return contextKeyPrefix + activityID + ":"
}

type memoryEntry struct {
	sc        *SchedulingContext
	expiresAt time.Time
}

// MemoryCache is a process-local ContextCache.
type MemoryCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now, entries: make(map[string]memoryEntry)}
}

// Get returns a live entry.
func (c *MemoryCache) Get(ctx context.Context, key string) (*SchedulingContext, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.sc, true, nil
}

// Set stores sc until ttl elapses.
func (c *MemoryCache) Set(ctx context.Context, key string, sc *SchedulingContext, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{sc: sc, expiresAt: c.now().Add(ttl)}
	return nil
}

// DeletePrefix drops every entry whose key starts with prefix.
func (c *MemoryCache) DeletePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

// RedisCache shares contexts across API replicas as JSON blobs.
type RedisCache struct {
	redis *redis.Client
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(redisClient *redis.Client) *RedisCache {
	return &RedisCache{redis: redisClient}
}

// Get returns a cached context; a missing key is a miss, not an error.
func (c *RedisCache) Get(ctx context.Context, key string) (*SchedulingContext, bool, error) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("availability: cache get: %w", err)
	}
	var sc SchedulingContext
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, false, fmt.Errorf("availability: cache decode: %w", err)
	}
	return &sc, true, nil
}

// Set stores sc with a Redis expiry.
func (c *RedisCache) Set(ctx context.Context, key string, sc *SchedulingContext, ttl time.Duration) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("availability: cache encode: %w", err)
	}
	if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("availability: cache set: %w", err)
	}
	return nil
}

// DeletePrefix scans and deletes matching keys.
func (c *RedisCache) DeletePrefix(ctx context.Context, prefix string) error {
	iter := c.redis.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("availability: cache scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("availability: cache delete: %w", err)
	}
	return nil
}

var (
	_ ContextCache = (*MemoryCache)(nil)
	_ ContextCache = (*RedisCache)(nil)
)
