package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/cloak-gateway/internal/domain"
	"github.com/ignite/cloak-gateway/internal/redirect"
)

// RedirectRepo reads redirect records and bumps their counters.
type RedirectRepo struct{ db *sql.DB }

// NewRedirectRepo creates a Postgres-backed redirect repository.
func NewRedirectRepo(db *sql.DB) *RedirectRepo { return &RedirectRepo{db: db} }

// FetchByPublicID returns the redirect for publicID, or
// redirect.ErrNotFound.
func (r *RedirectRepo) FetchByPublicID(ctx context.Context, publicID string) (*domain.Redirect, error) {
	rec := &domain.Redirect{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, public_id, human_url, bot_url, enabled, owner_id,
		       total_hits, human_hits, bot_hits, created_at, updated_at
		FROM redirects
		WHERE public_id = $1
	`, publicID).Scan(
		&rec.ID, &rec.PublicID, &rec.HumanURL, &rec.BotURL, &rec.Enabled, &rec.OwnerID,
		&rec.TotalHits, &rec.HumanHits, &rec.BotHits, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, redirect.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch redirect %s: %w", publicID, err)
	}
	return rec, nil
}

// IncrementCounters adds the flushed human/bot deltas to a redirect's
// hit counters. Counters only ever grow.
func (r *RedirectRepo) IncrementCounters(ctx context.Context, redirectID int64, humanDelta, botDelta int) error {
	if humanDelta <= 0 && botDelta <= 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE redirects
		SET total_hits = total_hits + $2,
		    human_hits = human_hits + $3,
		    bot_hits   = bot_hits + $4,
		    updated_at = NOW()
		WHERE id = $1
	`, redirectID, humanDelta+botDelta, humanDelta, botDelta)
	if err != nil {
		return fmt.Errorf("increment counters for redirect %d: %w", redirectID, err)
	}
	return nil
}
