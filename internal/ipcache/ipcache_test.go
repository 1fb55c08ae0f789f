package ipcache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/cloak-gateway/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]*domain.IPCacheEntry
	err     error
	upserts int
	touches int
	deletes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]*domain.IPCacheEntry)}
}

func (f *fakeStore) Get(ctx context.Context, ip string) (*domain.IPCacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.rows[ip]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) Upsert(ctx context.Context, e *domain.IPCacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := *e
	f.rows[e.IP] = &cp
	f.upserts++
	return nil
}

func (f *fakeStore) Touch(ctx context.Context, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, ip)
	f.deletes++
	return nil
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func botEntry(ip string) *domain.IPCacheEntry {
	return &domain.IPCacheEntry{
		IP:        ip,
		Reason:    domain.ReasonDatacenterUsage,
		Trust:     domain.TrustNone,
		Country:   "United States",
		ISP:       "Example Hosting",
		UsageType: "DCH",
	}
}

func TestGet_MissEverywhere(t *testing.T) {
	c := New(newFakeStore(), testRedis(t))

	if _, err := c.Get(context.Background(), "203.0.113.1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPut_WritesEveryLayer(t *testing.T) {
	store := newFakeStore()
	rdb := testRedis(t)
	c := New(store, rdb)

	if err := c.Put(context.Background(), botEntry("203.0.113.1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if c.Len() != 1 {
		t.Errorf("mem len = %d, want 1", c.Len())
	}
	if err := rdb.Get(context.Background(), "ipcache:203.0.113.1").Err(); err != nil {
		t.Errorf("redis layer missing entry: %v", err)
	}
	store.mu.Lock()
	upserts := store.upserts
	store.mu.Unlock()
	if upserts != 1 {
		t.Errorf("store upserts = %d, want 1", upserts)
	}

	got, err := c.Get(context.Background(), "203.0.113.1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Reason != domain.ReasonDatacenterUsage || got.UsageType != "DCH" {
		t.Errorf("entry = %+v", got)
	}
}

func TestPut_SurfacesStoreError(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("db down")
	c := New(store, nil)

	if err := c.Put(context.Background(), botEntry("203.0.113.1")); err == nil {
		t.Fatal("Put swallowed the store error")
	}
	// The memory layer still took the write so the current process keeps
	// convicting.
	if c.Len() != 1 {
		t.Errorf("mem len = %d, want 1", c.Len())
	}
}

func TestGet_PromotesFromRedis(t *testing.T) {
	rdb := testRedis(t)

	// A sibling instance sharing the Redis layer made the conviction.
	other := New(nil, rdb)
	if err := other.Put(context.Background(), botEntry("203.0.113.2")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	c := New(nil, rdb)
	got, err := c.Get(context.Background(), "203.0.113.2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Reason != domain.ReasonDatacenterUsage {
		t.Errorf("Reason = %q", got.Reason)
	}
	if c.Len() != 1 {
		t.Error("redis hit not promoted to the memory layer")
	}
}

func TestGet_PromotesFromStore(t *testing.T) {
	store := newFakeStore()
	store.rows["203.0.113.3"] = botEntry("203.0.113.3")
	rdb := testRedis(t)
	c := New(store, rdb)

	if _, err := c.Get(context.Background(), "203.0.113.3"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Len() != 1 {
		t.Error("store hit not promoted to the memory layer")
	}
	if err := rdb.Get(context.Background(), "ipcache:203.0.113.3").Err(); err != nil {
		t.Errorf("store hit not promoted to redis: %v", err)
	}
}

func TestGet_StoreErrorDegradesToMiss(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("db down")
	c := New(store, nil)

	if _, err := c.Get(context.Background(), "203.0.113.4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound (fail open)", err)
	}
}

func TestGet_BumpsHitCount(t *testing.T) {
	c := New(nil, nil)
	if err := c.Put(context.Background(), botEntry("203.0.113.5")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	first, _ := c.Get(context.Background(), "203.0.113.5")
	second, _ := c.Get(context.Background(), "203.0.113.5")
	if second.HitCount <= first.HitCount {
		t.Errorf("hit count did not advance: %d then %d", first.HitCount, second.HitCount)
	}
}

func TestGet_ConcurrentHitsStayConsistent(t *testing.T) {
	c := New(nil, nil)
	if err := c.Put(context.Background(), botEntry("203.0.113.9")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	const goroutines = 16
	const hitsEach = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < hitsEach; j++ {
				got, err := c.Get(context.Background(), "203.0.113.9")
				if err != nil {
					t.Errorf("Get: %v", err)
					return
				}
				if got.Reason != domain.ReasonDatacenterUsage {
					t.Errorf("Reason = %q", got.Reason)
					return
				}
			}
		}()
	}
	wg.Wait()

	// Put seeds the count at 1 and every Get bumps exactly once.
	final, err := c.Get(context.Background(), "203.0.113.9")
	if err != nil {
		t.Fatalf("final Get: %v", err)
	}
	if want := int64(1 + goroutines*hitsEach + 1); final.HitCount != want {
		t.Errorf("HitCount = %d, want %d", final.HitCount, want)
	}
}

func TestDelete_RemovesEveryLayer(t *testing.T) {
	store := newFakeStore()
	rdb := testRedis(t)
	c := New(store, rdb)

	if err := c.Put(context.Background(), botEntry("203.0.113.6")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Delete(context.Background(), "203.0.113.6"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := c.Get(context.Background(), "203.0.113.6"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after delete", err)
	}
	if err := rdb.Get(context.Background(), "ipcache:203.0.113.6").Err(); !errors.Is(err, redis.Nil) {
		t.Errorf("redis still holds the entry: %v", err)
	}
}

func TestWarm(t *testing.T) {
	c := New(nil, nil)
	c.Warm([]domain.IPCacheEntry{*botEntry("203.0.113.7"), *botEntry("203.0.113.8")})

	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
	if _, err := c.Get(context.Background(), "203.0.113.7"); err != nil {
		t.Errorf("warmed entry missing: %v", err)
	}
}
