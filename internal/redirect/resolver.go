// Package redirect resolves public link IDs to redirect records through
// a TTL memory cache over the store. Availability beats freshness here:
// on store errors a stale entry is served rather than failing the link.
package redirect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ignite/cloak-gateway/internal/domain"
	"github.com/ignite/cloak-gateway/internal/pkg/logger"
)

// Sentinel results of a lookup.
var (
	ErrNotFound = errors.New("redirect: not found")
	ErrDisabled = errors.New("redirect: disabled")
)

const (
	defaultTTL        = 300 * time.Second
	defaultSweepEvery = 60 * time.Second
)

// Store is the durable redirect source, implemented by the Postgres repo.
// FetchByPublicID returns ErrNotFound (wrapped is fine) for unknown IDs.
type Store interface {
	FetchByPublicID(ctx context.Context, publicID string) (*domain.Redirect, error)
}

type cacheEntry struct {
	redirect  *domain.Redirect
	negative  bool
	fetchedAt time.Time
}

// Stats are exposed on /health.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Stale   int64 `json:"stale_serves"`
}

// Resolver is the hot redirect cache. Safe for concurrent use.
type Resolver struct {
	store      Store
	ttl        time.Duration
	sweepEvery time.Duration

	mu      sync.RWMutex
	entries map[string]*cacheEntry
	stats   Stats

	stop chan struct{}
	done chan struct{}
}

// NewResolver builds a resolver with the default TTL and sweep cadence.
func NewResolver(store Store) *Resolver {
	return &Resolver{
		store:      store,
		ttl:        defaultTTL,
		sweepEvery: defaultSweepEvery,
		entries:    make(map[string]*cacheEntry),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the background sweep. Expired entries are also dropped
// lazily on access, so the sweep only bounds memory.
func (r *Resolver) Start() {
	go r.sweepLoop()
}

// Stop terminates the sweep goroutine.
func (r *Resolver) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Resolver) sweepLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

func (r *Resolver) sweep() {
	cutoff := time.Now().Add(-r.ttl)
	r.mu.Lock()
	for id, e := range r.entries {
		if e.fetchedAt.Before(cutoff) {
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()
}

// Lookup resolves publicID. Returns ErrNotFound for unknown links (cached
// negatively for the TTL), ErrDisabled for disabled ones, and serves a
// stale copy when the store fails on a refresh.
func (r *Resolver) Lookup(ctx context.Context, publicID string) (*domain.Redirect, error) {
	r.mu.RLock()
	e, ok := r.entries[publicID]
	r.mu.RUnlock()

	if ok && time.Since(e.fetchedAt) < r.ttl {
		r.count(func(s *Stats) { s.Hits++ })
		return entryResult(e)
	}

	fetched, err := r.store.FetchByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.put(publicID, &cacheEntry{negative: true, fetchedAt: time.Now()})
			r.count(func(s *Stats) { s.Misses++ })
			return nil, ErrNotFound
		}
		// Store trouble: an expired entry is better than a broken link.
		if ok {
			logger.Warn("redirect store error, serving stale", "public_id", publicID, "err", err.Error())
			r.count(func(s *Stats) { s.Stale++ })
			return entryResult(e)
		}
		return nil, err
	}

	r.put(publicID, &cacheEntry{redirect: fetched, fetchedAt: time.Now()})
	r.count(func(s *Stats) { s.Misses++ })
	return entryResult(&cacheEntry{redirect: fetched})
}

func entryResult(e *cacheEntry) (*domain.Redirect, error) {
	if e.negative || e.redirect == nil {
		return nil, ErrNotFound
	}
	if !e.redirect.Enabled {
		return nil, ErrDisabled
	}
	cp := *e.redirect
	return &cp, nil
}

// Invalidate drops publicID from the cache; the next lookup refetches.
func (r *Resolver) Invalidate(publicID string) {
	r.mu.Lock()
	delete(r.entries, publicID)
	r.mu.Unlock()
}

// Stats returns a copy of the cache counters.
func (r *Resolver) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.stats
	s.Entries = len(r.entries)
	return s
}

func (r *Resolver) put(publicID string, e *cacheEntry) {
	r.mu.Lock()
	r.entries[publicID] = e
	r.mu.Unlock()
}

func (r *Resolver) count(f func(*Stats)) {
	r.mu.Lock()
	f(&r.stats)
	r.mu.Unlock()
}
