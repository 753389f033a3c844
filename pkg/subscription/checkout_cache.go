package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CheckoutCache remembers open checkout sessions per (user key, plan) so a
// double-clicked upgrade returns the same session. Entries never cross pairs.
type CheckoutCache interface {
	Get(ctx context.Context, userKey string, plan Plan) (*CheckoutSession, bool, error)
	Put(ctx context.Context, userKey string, plan Plan, s *CheckoutSession) error
}

const DefaultCheckoutCacheTTL = 10 * time.Minute

func checkoutCacheKey(userKey string, plan Plan) string {
	return "subsync:checkout:" + userKey + ":" + string(plan)
}

// RedisCheckoutCache stores sessions as JSON with a TTL capped by the
// session's own expiry.
type RedisCheckoutCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisCheckoutCache(client redis.UniversalClient, ttl time.Duration) *RedisCheckoutCache {
	if client == nil {
		panic("subscription: redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultCheckoutCacheTTL
	}
	return &RedisCheckoutCache{client: client, ttl: ttl, now: time.Now}
}

func (c *RedisCheckoutCache) Get(ctx context.Context, userKey string, plan Plan) (*CheckoutSession, bool, error) {
	b, err := c.client.Get(ctx, checkoutCacheKey(userKey, plan)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var s CheckoutSession
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, false, err
	}
	if !s.ExpiresAt.IsZero() && !s.ExpiresAt.After(c.now()) {
		return nil, false, nil
	}
	return &s, true, nil
}

func (c *RedisCheckoutCache) Put(ctx context.Context, userKey string, plan Plan, s *CheckoutSession) error {
	ttl := c.ttl
	if !s.ExpiresAt.IsZero() {
		if left := s.ExpiresAt.Sub(c.now()); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return nil
	}

	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, checkoutCacheKey(userKey, plan), b, ttl).Err()
}

// MemoryCheckoutCache is the in-process fallback when Redis is not configured.
type MemoryCheckoutCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryCheckoutEntry
}

type memoryCheckoutEntry struct {
	session CheckoutSession
	expires time.Time
}

func NewMemoryCheckoutCache(ttl time.Duration) *MemoryCheckoutCache {
	if ttl <= 0 {
		ttl = DefaultCheckoutCacheTTL
	}
	return &MemoryCheckoutCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryCheckoutEntry),
	}
}

func (c *MemoryCheckoutCache) Get(_ context.Context, userKey string, plan Plan) (*CheckoutSession, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := checkoutCacheKey(userKey, plan)
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.After(c.now()) {
		delete(c.entries, key)
		return nil, false, nil
	}
	s := e.session
	return &s, true, nil
}

func (c *MemoryCheckoutCache) Put(_ context.Context, userKey string, plan Plan, s *CheckoutSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expires := now.Add(c.ttl)
	if !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(expires) {
		expires = s.ExpiresAt
	}
	c.entries[checkoutCacheKey(userKey, plan)] = memoryCheckoutEntry{session: *s, expires: expires}
	return nil
}
