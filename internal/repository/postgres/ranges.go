package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/cloak-gateway/internal/blacklist"
)

// RangeRepo mirrors auto-added blacklist rows into the ip_ranges table so
// the management product can display and edit them. The JSON snapshot on
// disk remains the gateway's source of truth.
type RangeRepo struct{ db *sql.DB }

// NewRangeRepo creates a Postgres-backed range repository.
func NewRangeRepo(db *sql.DB) *RangeRepo { return &RangeRepo{db: db} }

// UpsertRange writes one blacklist row, keyed by canonical CIDR.
func (r *RangeRepo) UpsertRange(ctx context.Context, e blacklist.Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ip_ranges (cidr, origin_ip, reason, usage_type, country,
			isp, ip_count, hit_count, last_hit, added_by, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (cidr) DO UPDATE SET
			hit_count = EXCLUDED.hit_count,
			last_hit  = EXCLUDED.last_hit
	`, e.CIDR, e.OriginIP, e.Reason, e.UsageType, e.Country,
		e.ISP, e.IPCount, e.HitCount, nullTime(e), e.AddedBy, e.AddedAt)
	if err != nil {
		return fmt.Errorf("upsert ip range %s: %w", e.CIDR, err)
	}
	return nil
}

func nullTime(e blacklist.Entry) interface{} {
	if e.LastHit.IsZero() {
		return nil
	}
	return e.LastHit
}

// DeleteRange removes a mirrored row (operator removal).
func (r *RangeRepo) DeleteRange(ctx context.Context, cidr string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM ip_ranges WHERE cidr = $1`, cidr)
	if err != nil {
		return fmt.Errorf("delete ip range %s: %w", cidr, err)
	}
	return nil
}
