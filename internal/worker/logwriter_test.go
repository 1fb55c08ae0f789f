package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ignite/cloak-gateway/internal/domain"
)

type fakeLogStore struct {
	mu           sync.Mutex
	visitorRows  []*domain.VisitorLog
	eventRows    []*domain.RealtimeEvent
	emailRows    []*domain.CapturedEmail
	trims        int
	failVisitors bool
}

func (f *fakeLogStore) InsertVisitorLog(ctx context.Context, row *domain.VisitorLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failVisitors {
		return errors.New("insert failed")
	}
	f.visitorRows = append(f.visitorRows, row)
	return nil
}

func (f *fakeLogStore) InsertRealtimeEvent(ctx context.Context, row *domain.RealtimeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventRows = append(f.eventRows, row)
	return nil
}

func (f *fakeLogStore) InsertCapturedEmail(ctx context.Context, row *domain.CapturedEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emailRows = append(f.emailRows, row)
	return nil
}

func (f *fakeLogStore) TrimRealtimeEvents(ctx context.Context, keep int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trims++
	return nil
}

type fakeCounterStore struct {
	mu     sync.Mutex
	deltas map[int64][2]int // redirectID → {human, bot}
}

func (f *fakeCounterStore) IncrementCounters(ctx context.Context, redirectID int64, humanDelta, botDelta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deltas == nil {
		f.deltas = make(map[int64][2]int)
	}
	d := f.deltas[redirectID]
	d[0] += humanDelta
	d[1] += botDelta
	f.deltas[redirectID] = d
	return nil
}

func visitorRow(redirectID int64, class domain.Classification) *domain.VisitorLog {
	return &domain.VisitorLog{
		RedirectID:     &redirectID,
		IP:             "203.0.113.1",
		Classification: class,
	}
}

func TestFlush_DrainsAllQueues(t *testing.T) {
	store := &fakeLogStore{}
	w := NewLogWriter(store, nil, 0)

	w.EnqueueVisitor(visitorRow(1, domain.ClassHuman))
	w.EnqueueRealtime(&domain.RealtimeEvent{IP: "203.0.113.1"})
	w.EnqueueEmail(&domain.CapturedEmail{Email: "x@y.io"})

	w.flush()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.visitorRows) != 1 || len(store.eventRows) != 1 || len(store.emailRows) != 1 {
		t.Errorf("rows = %d/%d/%d, want 1/1/1",
			len(store.visitorRows), len(store.eventRows), len(store.emailRows))
	}
	if store.trims != 1 {
		t.Errorf("trims = %d, want 1 after a realtime flush", store.trims)
	}
}

func TestFlush_AggregatesCounterDeltas(t *testing.T) {
	store := &fakeLogStore{}
	counters := &fakeCounterStore{}
	w := NewLogWriter(store, counters, 0)

	w.EnqueueVisitor(visitorRow(7, domain.ClassHuman))
	w.EnqueueVisitor(visitorRow(7, domain.ClassHuman))
	w.EnqueueVisitor(visitorRow(7, domain.ClassBot))
	w.EnqueueVisitor(visitorRow(9, domain.ClassBot))

	w.flush()

	counters.mu.Lock()
	defer counters.mu.Unlock()
	if d := counters.deltas[7]; d != [2]int{2, 1} {
		t.Errorf("redirect 7 deltas = %v, want {2 1}", d)
	}
	if d := counters.deltas[9]; d != [2]int{0, 1} {
		t.Errorf("redirect 9 deltas = %v, want {0 1}", d)
	}
}

func TestFlush_SmallFailedBatchRequeues(t *testing.T) {
	store := &fakeLogStore{failVisitors: true}
	w := NewLogWriter(store, nil, 0)

	for i := 0; i < 5; i++ {
		w.EnqueueVisitor(visitorRow(1, domain.ClassHuman))
	}
	w.flush()

	if got := w.visitors.len(); got != 5 {
		t.Errorf("queue depth after failed small batch = %d, want 5 (requeued)", got)
	}

	// Retry succeeds once the store recovers.
	store.mu.Lock()
	store.failVisitors = false
	store.mu.Unlock()
	w.flush()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.visitorRows) != 5 {
		t.Errorf("rows after recovery = %d, want 5", len(store.visitorRows))
	}
}

func TestFlush_LargeFailedBatchDrops(t *testing.T) {
	store := &fakeLogStore{failVisitors: true}
	w := NewLogWriter(store, nil, 0)

	for i := 0; i < requeueLimit+1; i++ {
		w.EnqueueVisitor(visitorRow(1, domain.ClassHuman))
	}
	w.flush()

	if got := w.visitors.len(); got != 0 {
		t.Errorf("queue depth = %d, want 0 (batch over limit dropped)", got)
	}
	if s := w.Stats(); s.Dropped != int64(requeueLimit+1) {
		t.Errorf("Dropped = %d, want %d", s.Dropped, requeueLimit+1)
	}
}

func TestFlush_BatchSizeCap(t *testing.T) {
	store := &fakeLogStore{}
	w := NewLogWriter(store, nil, 0)

	for i := 0; i < flushBatchSize+25; i++ {
		w.EnqueueVisitor(visitorRow(1, domain.ClassHuman))
	}
	w.flush()

	store.mu.Lock()
	got := len(store.visitorRows)
	store.mu.Unlock()
	if got != flushBatchSize {
		t.Errorf("rows after one flush = %d, want %d", got, flushBatchSize)
	}
	if depth := w.visitors.len(); depth != 25 {
		t.Errorf("remaining depth = %d, want 25", depth)
	}
}

func TestEnqueue_FullQueueDrops(t *testing.T) {
	w := NewLogWriter(&fakeLogStore{}, nil, 0)

	for i := 0; i < queueCapacity+3; i++ {
		w.EnqueueEmail(&domain.CapturedEmail{Email: "x@y.io"})
	}

	if depth := w.emails.len(); depth != queueCapacity {
		t.Errorf("depth = %d, want %d", depth, queueCapacity)
	}
	if s := w.Stats(); s.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", s.Dropped)
	}
}

func TestStopFlushesPending(t *testing.T) {
	store := &fakeLogStore{}
	w := NewLogWriter(store, nil, DefaultFlushInterval)
	w.Start()

	w.EnqueueVisitor(visitorRow(1, domain.ClassHuman))
	w.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.visitorRows) != 1 {
		t.Errorf("rows after Stop = %d, want 1 (final flush)", len(store.visitorRows))
	}
}

func TestStats_QueueDepths(t *testing.T) {
	w := NewLogWriter(&fakeLogStore{}, nil, 0)
	w.EnqueueVisitor(visitorRow(1, domain.ClassHuman))
	w.EnqueueRealtime(&domain.RealtimeEvent{})

	s := w.Stats()
	if s.VisitorQueued != 1 || s.RealtimeQueued != 1 || s.EmailQueued != 0 {
		t.Errorf("stats = %+v", s)
	}
}
