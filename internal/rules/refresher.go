// Package rules loads the operator rule tables (isp_configs,
// user_agent_patterns) and refreshes them periodically. The gateway only
// ever reads these tables; editing happens in the management product.
package rules

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ignite/cloak-gateway/internal/domain"
)

// DefaultRefreshInterval is how often the tables are reloaded.
const DefaultRefreshInterval = 5 * time.Minute

// Repo reads the rule tables, implemented by the Postgres rule repo.
type Repo interface {
	ListISPRules(ctx context.Context) ([]domain.ISPRule, error)
	ListUAPatterns(ctx context.Context) ([]domain.UAPattern, error)
}

// PatternSink receives refreshed UA patterns (the stage-1 classifier).
type PatternSink interface {
	SetExtraPatterns(patterns []domain.UAPattern)
}

// Refresher holds the latest good snapshot of both tables. A failed
// refresh keeps the previous snapshot; the pipeline never sees a
// half-loaded rule set.
type Refresher struct {
	repo     Repo
	sink     PatternSink
	interval time.Duration

	mu       sync.RWMutex
	ispRules []domain.ISPRule
}

// New creates a refresher. sink may be nil.
func New(repo Repo, sink PatternSink) *Refresher {
	return &Refresher{
		repo:     repo,
		sink:     sink,
		interval: DefaultRefreshInterval,
	}
}

// ISPRules returns the current ISP rule snapshot.
func (r *Refresher) ISPRules() []domain.ISPRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ispRules
}

// Refresh loads both tables once. Called at startup and from the loop.
func (r *Refresher) Refresh(ctx context.Context) error {
	isp, err := r.repo.ListISPRules(ctx)
	if err != nil {
		return err
	}
	patterns, err := r.repo.ListUAPatterns(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.ispRules = isp
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.SetExtraPatterns(patterns)
	}
	log.Printf("[Rules] Loaded %d ISP rules, %d UA patterns", len(isp), len(patterns))
	return nil
}

// Start begins the refresh loop. It blocks until ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) {
	log.Printf("[Rules] Starting (interval=%s)", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Rules] Stopping")
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				log.Printf("[Rules] Refresh failed, keeping previous snapshot: %v", err)
			}
		}
	}
}
