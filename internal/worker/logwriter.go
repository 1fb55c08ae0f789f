package worker

// =============================================================================
// WRITE-BEHIND LOG WRITER — Batched Visitor Log / Event / Email Persistence
// =============================================================================
// Redirect latency must never wait on Postgres, so the handler enqueues
// log rows into bounded in-memory queues and returns. A single flush
// goroutine drains the queues on a short ticker using per-row inserts
// with ON CONFLICT DO NOTHING.
//
// Loss rules: a full queue drops the new row (counted); a failed batch is
// put back at the head only when it is small (≤10 rows), larger failed
// batches are dropped. Log loss is acceptable; a slow redirect is not.

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ignite/cloak-gateway/internal/domain"
)

const (
	// DefaultFlushInterval is the drain cadence.
	DefaultFlushInterval = 2 * time.Second

	// flushBatchSize caps rows drained per queue per tick.
	flushBatchSize = 100

	// requeueLimit is the largest failed batch worth retrying.
	requeueLimit = 10

	// queueCapacity bounds each in-memory queue.
	queueCapacity = 10000

	// realtimeKeep is the ring size of the realtime_events table.
	realtimeKeep = 1000
)

// LogStore is the durable sink, implemented by the Postgres log repo.
type LogStore interface {
	InsertVisitorLog(ctx context.Context, row *domain.VisitorLog) error
	InsertRealtimeEvent(ctx context.Context, row *domain.RealtimeEvent) error
	InsertCapturedEmail(ctx context.Context, row *domain.CapturedEmail) error
	TrimRealtimeEvents(ctx context.Context, keep int) error
}

// CounterStore bumps redirect hit counters, implemented by the redirect repo.
type CounterStore interface {
	IncrementCounters(ctx context.Context, redirectID int64, humanDelta, botDelta int) error
}

// queue is a bounded FIFO with head requeue support.
type queue[T any] struct {
	mu      sync.Mutex
	items   []T
	dropped int64
}

func (q *queue[T]) push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= queueCapacity {
		q.dropped++
		return false
	}
	q.items = append(q.items, item)
	return true
}

func (q *queue[T]) take(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil
	}
	batch := make([]T, n)
	copy(batch, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	return batch
}

func (q *queue[T]) requeueHead(batch []T) {
	q.mu.Lock()
	q.items = append(batch, q.items...)
	q.mu.Unlock()
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats describe queue health for /health.
type Stats struct {
	VisitorQueued  int   `json:"visitor_queued"`
	RealtimeQueued int   `json:"realtime_queued"`
	EmailQueued    int   `json:"email_queued"`
	Flushed        int64 `json:"flushed"`
	Dropped        int64 `json:"dropped"`
}

// LogWriter owns the three queues and the flush loop.
type LogWriter struct {
	store    LogStore
	counters CounterStore
	interval time.Duration

	visitors queue[*domain.VisitorLog]
	events   queue[*domain.RealtimeEvent]
	emails   queue[*domain.CapturedEmail]

	flushNow chan struct{}

	statsMu          sync.Mutex
	flushed          int64
	droppedBatchRows int64

	stop chan struct{}
	done chan struct{}
}

// NewLogWriter creates the writer. interval ≤0 uses the default.
func NewLogWriter(store LogStore, counters CounterStore, interval time.Duration) *LogWriter {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &LogWriter{
		store:    store,
		counters: counters,
		interval: interval,
		flushNow: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// EnqueueVisitor queues a visitor log row; never blocks.
func (w *LogWriter) EnqueueVisitor(row *domain.VisitorLog) {
	if !w.visitors.push(row) {
		log.Printf("[LogWriter] visitor queue full, dropping row")
		return
	}
	w.maybeSignal(w.visitors.len())
}

// EnqueueRealtime queues a realtime event; never blocks.
func (w *LogWriter) EnqueueRealtime(row *domain.RealtimeEvent) {
	if !w.events.push(row) {
		log.Printf("[LogWriter] realtime queue full, dropping row")
		return
	}
	w.maybeSignal(w.events.len())
}

// EnqueueEmail queues a captured email; never blocks.
func (w *LogWriter) EnqueueEmail(row *domain.CapturedEmail) {
	if !w.emails.push(row) {
		log.Printf("[LogWriter] email queue full, dropping row")
		return
	}
	w.maybeSignal(w.emails.len())
}

func (w *LogWriter) maybeSignal(depth int) {
	if depth >= 2*flushBatchSize {
		select {
		case w.flushNow <- struct{}{}:
		default:
		}
	}
}

// Start launches the flush goroutine.
func (w *LogWriter) Start() {
	go w.run()
}

// Stop drains what it can and terminates the flush goroutine. Client
// disconnects never cancel a flush; only Stop does, and even Stop flushes
// one final time first.
func (w *LogWriter) Stop() {
	close(w.stop)
	<-w.done
}

func (w *LogWriter) run() {
	defer close(w.done)
	log.Printf("[LogWriter] Starting (interval=%s, batch=%d)", w.interval, flushBatchSize)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flush()
		case <-w.flushNow:
			w.flush()
		case <-w.stop:
			w.flush()
			log.Println("[LogWriter] Stopping")
			return
		}
	}
}

// flush drains up to one batch per queue. Flushes run on their own
// context: an aborted request must not abort persistence.
func (w *LogWriter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	w.flushVisitors(ctx)
	w.flushRealtime(ctx)
	w.flushEmails(ctx)
}

func (w *LogWriter) flushVisitors(ctx context.Context) {
	batch := w.visitors.take(flushBatchSize)
	if len(batch) == 0 {
		return
	}

	type delta struct{ human, bot int }
	counters := make(map[int64]delta)

	failed := false
	for _, row := range batch {
		if err := w.store.InsertVisitorLog(ctx, row); err != nil {
			log.Printf("[LogWriter] visitor insert failed: %v", err)
			failed = true
			break
		}
		if row.RedirectID != nil {
			d := counters[*row.RedirectID]
			if row.Classification == domain.ClassBot {
				d.bot++
			} else {
				d.human++
			}
			counters[*row.RedirectID] = d
		}
	}

	if failed {
		w.handleFailure(len(batch), func() { w.visitors.requeueHead(batch) })
		return
	}

	w.addFlushed(int64(len(batch)))
	if w.counters != nil {
		for id, d := range counters {
			if err := w.counters.IncrementCounters(ctx, id, d.human, d.bot); err != nil {
				log.Printf("[LogWriter] counter update failed for redirect %d: %v", id, err)
			}
		}
	}
}

func (w *LogWriter) flushRealtime(ctx context.Context) {
	batch := w.events.take(flushBatchSize)
	if len(batch) == 0 {
		return
	}

	for _, row := range batch {
		if err := w.store.InsertRealtimeEvent(ctx, row); err != nil {
			log.Printf("[LogWriter] realtime insert failed: %v", err)
			w.handleFailure(len(batch), func() { w.events.requeueHead(batch) })
			return
		}
	}
	w.addFlushed(int64(len(batch)))

	if err := w.store.TrimRealtimeEvents(ctx, realtimeKeep); err != nil {
		log.Printf("[LogWriter] realtime trim failed: %v", err)
	}
}

func (w *LogWriter) flushEmails(ctx context.Context) {
	batch := w.emails.take(flushBatchSize)
	if len(batch) == 0 {
		return
	}

	for _, row := range batch {
		if err := w.store.InsertCapturedEmail(ctx, row); err != nil {
			log.Printf("[LogWriter] email insert failed: %v", err)
			w.handleFailure(len(batch), func() { w.emails.requeueHead(batch) })
			return
		}
	}
	w.addFlushed(int64(len(batch)))
}

func (w *LogWriter) handleFailure(size int, requeue func()) {
	if size <= requeueLimit {
		requeue()
		return
	}
	log.Printf("[LogWriter] dropping failed batch of %d rows", size)
	w.statsMu.Lock()
	w.droppedBatchRows += int64(size)
	w.statsMu.Unlock()
}

func (w *LogWriter) addFlushed(n int64) {
	w.statsMu.Lock()
	w.flushed += n
	w.statsMu.Unlock()
}

// Stats returns a point-in-time snapshot of queue depths and counters.
func (w *LogWriter) Stats() Stats {
	w.statsMu.Lock()
	flushed := w.flushed
	dropped := w.droppedBatchRows
	w.statsMu.Unlock()

	dropped += w.droppedTotal()
	return Stats{
		VisitorQueued:  w.visitors.len(),
		RealtimeQueued: w.events.len(),
		EmailQueued:    w.emails.len(),
		Flushed:        flushed,
		Dropped:        dropped,
	}
}

func (w *LogWriter) droppedTotal() int64 {
	total := int64(0)
	w.visitors.mu.Lock()
	total += w.visitors.dropped
	w.visitors.mu.Unlock()
	w.events.mu.Lock()
	total += w.events.dropped
	w.events.mu.Unlock()
	w.emails.mu.Lock()
	total += w.emails.dropped
	w.emails.mu.Unlock()
	return total
}
