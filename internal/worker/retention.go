package worker

// =============================================================================
// RETENTION WORKER — Purges Old Visitor Logs
// =============================================================================
// Visitor logs are append-only and grow without bound; rows older than
// the retention window (default 7 days) are deleted once an hour. The
// purge runs under a distributed lock so that only one gateway instance
// in a process group does the work.

import (
	"context"
	"log"
	"time"

	"github.com/ignite/cloak-gateway/internal/pkg/distlock"
)

const (
	// DefaultRetention is how long visitor logs are kept.
	DefaultRetention = 7 * 24 * time.Hour

	// DefaultPurgeInterval is how often the purge cycle runs.
	DefaultPurgeInterval = 1 * time.Hour
)

// Purger deletes old visitor logs, implemented by the Postgres log repo.
type Purger interface {
	PurgeVisitorLogs(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionWorker periodically purges expired visitor logs.
type RetentionWorker struct {
	purger    Purger
	lock      distlock.DistLock
	retention time.Duration
	interval  time.Duration
}

// NewRetentionWorker creates a retention worker. retention ≤0 uses the
// default window; lock may be nil for single-instance deployments.
func NewRetentionWorker(purger Purger, lock distlock.DistLock, retention time.Duration) *RetentionWorker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RetentionWorker{
		purger:    purger,
		lock:      lock,
		retention: retention,
		interval:  DefaultPurgeInterval,
	}
}

// Start begins the purge loop. It blocks until ctx is cancelled.
func (rw *RetentionWorker) Start(ctx context.Context) {
	log.Printf("[Retention] Starting (window=%s, interval=%s)", rw.retention, rw.interval)

	// Run once immediately on start
	rw.purge(ctx)

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Retention] Stopping")
			return
		case <-ticker.C:
			rw.purge(ctx)
		}
	}
}

func (rw *RetentionWorker) purge(ctx context.Context) {
	if rw.lock != nil {
		acquired, err := rw.lock.Acquire(ctx)
		if err != nil {
			log.Printf("[Retention] Lock acquire failed: %v", err)
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if err := rw.lock.Release(ctx); err != nil {
				log.Printf("[Retention] Lock release failed: %v", err)
			}
		}()
	}

	cutoff := time.Now().UTC().Add(-rw.retention)
	removed, err := rw.purger.PurgeVisitorLogs(ctx, cutoff)
	if err != nil {
		log.Printf("[Retention] Purge failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("[Retention] Removed %d visitor logs older than %s", removed, cutoff.Format(time.RFC3339))
	}
}
