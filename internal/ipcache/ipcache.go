// Package ipcache keeps BOT convictions per IP so repeat visitors skip
// the paid intelligence lookup. Three layers: an in-process map for the
// hot path, an optional Redis mirror shared across gateway instances,
// and the ip_cache Postgres table as durable truth. HUMAN verdicts are
// never stored at any layer.
package ipcache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/cloak-gateway/internal/domain"
	"github.com/ignite/cloak-gateway/internal/pkg/logger"
)

// ErrNotFound reports a cache miss across every layer.
var ErrNotFound = errors.New("ipcache: not found")

const redisKeyPrefix = "ipcache:"

// Store is the durable layer, implemented by the Postgres repo.
type Store interface {
	Get(ctx context.Context, ip string) (*domain.IPCacheEntry, error)
	Upsert(ctx context.Context, e *domain.IPCacheEntry) error
	Touch(ctx context.Context, ip string) error
	Delete(ctx context.Context, ip string) error
}

// Cache is the layered BOT-IP cache. rdb may be nil (single instance).
type Cache struct {
	mu    sync.RWMutex
	mem   map[string]*domain.IPCacheEntry
	store Store
	rdb   *redis.Client
}

// New builds the cache. Pass nil rdb to run without the shared layer.
func New(store Store, rdb *redis.Client) *Cache {
	return &Cache{
		mem:   make(map[string]*domain.IPCacheEntry),
		store: store,
		rdb:   rdb,
	}
}

// Warm bulk-loads entries into the memory layer (startup).
func (c *Cache) Warm(entries []domain.IPCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range entries {
		e := entries[i]
		c.mem[e.IP] = &e
	}
}

// Get returns the conviction for ip, or ErrNotFound. A hit bumps the
// in-memory counters and refreshes last_hit in the store write-behind,
// so the hot path never waits on Postgres. Store errors degrade to a
// miss; the pipeline fails open.
func (c *Cache) Get(ctx context.Context, ip string) (*domain.IPCacheEntry, error) {
	c.mu.RLock()
	e, ok := c.mem[ip]
	c.mu.RUnlock()
	if ok {
		cp := c.bump(e)
		go c.touchStore(ip)
		return &cp, nil
	}

	if e := c.fromRedis(ctx, ip); e != nil {
		cp := c.bump(c.remember(e))
		go c.touchStore(ip)
		return &cp, nil
	}

	if c.store != nil {
		e, err := c.store.Get(ctx, ip)
		if err == nil && e != nil {
			c.toRedis(ctx, e)
			cp := c.bump(c.remember(e))
			go c.touchStore(ip)
			return &cp, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			logger.Warn("ipcache store read failed", "ip", ip, "err", err.Error())
		}
	}

	return nil, ErrNotFound
}

// Put records a BOT conviction at every layer. The durable write is
// synchronous so a crash right after a conviction does not lose it.
func (c *Cache) Put(ctx context.Context, e *domain.IPCacheEntry) error {
	if e.CachedAt.IsZero() {
		e.CachedAt = time.Now().UTC()
	}
	if e.LastHit.IsZero() {
		e.LastHit = e.CachedAt
	}
	if e.HitCount == 0 {
		e.HitCount = 1
	}

	c.remember(e)
	c.toRedis(ctx, e)

	if c.store == nil {
		return nil
	}
	if err := c.store.Upsert(ctx, e); err != nil {
		logger.Error("ipcache store write failed", "ip", e.IP, "err", err.Error())
		return err
	}
	return nil
}

// Delete removes ip from every layer (operator action).
func (c *Cache) Delete(ctx context.Context, ip string) error {
	c.mu.Lock()
	delete(c.mem, ip)
	c.mu.Unlock()

	if c.rdb != nil {
		if err := c.rdb.Del(ctx, redisKeyPrefix+ip).Err(); err != nil {
			logger.Warn("ipcache redis delete failed", "ip", ip, "err", err.Error())
		}
	}
	if c.store != nil {
		return c.store.Delete(ctx, ip)
	}
	return nil
}

// Len returns the in-memory entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mem)
}

func (c *Cache) remember(e *domain.IPCacheEntry) *domain.IPCacheEntry {
	cp := *e
	c.mu.Lock()
	c.mem[cp.IP] = &cp
	c.mu.Unlock()
	return &cp
}

// bump mutates the shared entry and snapshots it in the same critical
// section; callers must never read e after the lock is released.
func (c *Cache) bump(e *domain.IPCacheEntry) domain.IPCacheEntry {
	c.mu.Lock()
	e.HitCount++
	e.LastHit = time.Now().UTC()
	cp := *e
	c.mu.Unlock()
	return cp
}

func (c *Cache) touchStore(ip string) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.store.Touch(ctx, ip); err != nil {
		logger.Debug("ipcache touch failed", "ip", ip, "err", err.Error())
	}
}

func (c *Cache) fromRedis(ctx context.Context, ip string) *domain.IPCacheEntry {
	if c.rdb == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, redisKeyPrefix+ip).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("ipcache redis read failed", "ip", ip, "err", err.Error())
		}
		return nil
	}
	var e domain.IPCacheEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		logger.Warn("ipcache redis row malformed", "ip", ip, "err", err.Error())
		return nil
	}
	return &e
}

func (c *Cache) toRedis(ctx context.Context, e *domain.IPCacheEntry) {
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	// Convictions do not expire; removal is an explicit operator action.
	if err := c.rdb.Set(ctx, redisKeyPrefix+e.IP, data, 0).Err(); err != nil {
		logger.Warn("ipcache redis write failed", "ip", e.IP, "err", err.Error())
	}
}
