package memory

import (
	"context"
	"sync"
	"time"

	"github.com/darktidesresearch/storefront/internal/redisx"
)

// Cache is a process-local redisx.Cache. Fail, when set, is returned from
// every call to simulate an unreachable Redis.
type Cache struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
	Fail error
}

type entry struct {
	value     string
	expiresAt time.Time
}

var _ redisx.Cache = (*Cache)(nil)

func NewCache() *Cache {
	return &Cache{data: map[string]entry{}, now: time.Now}
}

func (c *Cache) live(key string) (entry, bool) {
	e, ok := c.data[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.data, key)
		return entry{}, false
	}
	return e, true
}

func (c *Cache) put(key, value string, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.data[key] = e
}

func (c *Cache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		return "", c.Fail
	}
	e, ok := c.live(key)
	if !ok {
		return "", redisx.ErrMiss
	}
	return e.value, nil
}

func (c *Cache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		return c.Fail
	}
	c.put(key, value, ttl)
	return nil
}

func (c *Cache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		return false, c.Fail
	}
	if _, ok := c.live(key); ok {
		return false, nil
	}
	c.put(key, value, ttl)
	return true, nil
}

func (c *Cache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		return false, c.Fail
	}
	_, ok := c.live(key)
	return ok, nil
}

func (c *Cache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		return c.Fail
	}
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}
