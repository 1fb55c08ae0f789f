package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/cloak-gateway/internal/domain"
	"github.com/ignite/cloak-gateway/internal/ipcache"
)

// IPCacheRepo is the durable layer of the BOT-IP cache.
type IPCacheRepo struct{ db *sql.DB }

// NewIPCacheRepo creates a Postgres-backed IP cache repository.
func NewIPCacheRepo(db *sql.DB) *IPCacheRepo { return &IPCacheRepo{db: db} }

// Get returns the conviction row for ip, or ipcache.ErrNotFound.
func (r *IPCacheRepo) Get(ctx context.Context, ip string) (*domain.IPCacheEntry, error) {
	e := &domain.IPCacheEntry{}
	err := r.db.QueryRowContext(ctx, `
		SELECT ip, reason, trust_level, country, region, city, isp,
		       usage_type, cached_at, last_hit, hit_count
		FROM ip_cache
		WHERE ip = $1
	`, ip).Scan(
		&e.IP, &e.Reason, &e.Trust, &e.Country, &e.Region, &e.City, &e.ISP,
		&e.UsageType, &e.CachedAt, &e.LastHit, &e.HitCount,
	)
	if err == sql.ErrNoRows {
		return nil, ipcache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ip_cache row: %w", err)
	}
	return e, nil
}

// Upsert writes a conviction row, keeping the original cached_at and
// accumulating hit_count on conflict.
func (r *IPCacheRepo) Upsert(ctx context.Context, e *domain.IPCacheEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ip_cache (ip, reason, trust_level, country, region, city,
		                      isp, usage_type, cached_at, last_hit, hit_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (ip) DO UPDATE SET
			reason     = EXCLUDED.reason,
			last_hit   = EXCLUDED.last_hit,
			hit_count  = ip_cache.hit_count + 1
	`, e.IP, e.Reason, e.Trust, e.Country, e.Region, e.City,
		e.ISP, e.UsageType, e.CachedAt, e.LastHit, e.HitCount)
	if err != nil {
		return fmt.Errorf("upsert ip_cache row: %w", err)
	}
	return nil
}

// Touch refreshes last_hit and bumps hit_count for an existing row.
func (r *IPCacheRepo) Touch(ctx context.Context, ip string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ip_cache
		SET last_hit = NOW(), hit_count = hit_count + 1
		WHERE ip = $1
	`, ip)
	if err != nil {
		return fmt.Errorf("touch ip_cache row: %w", err)
	}
	return nil
}

// Delete removes a conviction (operator action).
func (r *IPCacheRepo) Delete(ctx context.Context, ip string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM ip_cache WHERE ip = $1`, ip)
	if err != nil {
		return fmt.Errorf("delete ip_cache row: %w", err)
	}
	return nil
}

// WarmLoad returns up to limit recent convictions for startup warming of
// the in-process mirror.
func (r *IPCacheRepo) WarmLoad(ctx context.Context, limit int) ([]domain.IPCacheEntry, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ip, reason, trust_level, country, region, city, isp,
		       usage_type, cached_at, last_hit, hit_count
		FROM ip_cache
		ORDER BY last_hit DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("warm load ip_cache: %w", err)
	}
	defer rows.Close()

	var out []domain.IPCacheEntry
	for rows.Next() {
		var e domain.IPCacheEntry
		if err := rows.Scan(
			&e.IP, &e.Reason, &e.Trust, &e.Country, &e.Region, &e.City, &e.ISP,
			&e.UsageType, &e.CachedAt, &e.LastHit, &e.HitCount,
		); err != nil {
			return nil, fmt.Errorf("scan ip_cache row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
