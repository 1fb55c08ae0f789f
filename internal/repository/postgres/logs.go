package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/cloak-gateway/internal/domain"
)

// LogRepo persists visitor logs, realtime events, and captured emails.
// Every insert uses ON CONFLICT DO NOTHING so a requeued batch can be
// retried without duplicating rows.
type LogRepo struct{ db *sql.DB }

// NewLogRepo creates a Postgres-backed log repository.
func NewLogRepo(db *sql.DB) *LogRepo { return &LogRepo{db: db} }

// InsertVisitorLog writes one visitor row. A missing id is assigned here
// so callers can enqueue bare rows.
func (r *LogRepo) InsertVisitorLog(ctx context.Context, row *domain.VisitorLog) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO visitor_logs (id, redirect_id, ip, country, city, isp,
			user_agent, browser, device, classification, trust_level,
			reason, redirected_to, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`, row.ID, row.RedirectID, row.IP, row.Country, row.City, row.ISP,
		row.UserAgent, row.Browser, row.Device, row.Classification, row.Trust,
		row.Reason, row.RedirectedTo, row.Timestamp)
	if err != nil {
		return fmt.Errorf("insert visitor log: %w", err)
	}
	return nil
}

// InsertRealtimeEvent writes one realtime event row.
func (r *LogRepo) InsertRealtimeEvent(ctx context.Context, row *domain.RealtimeEvent) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO realtime_events (id, redirect_id, ip, country,
			user_agent, classification, reason, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, row.ID, row.RedirectID, row.IP, row.Country,
		row.UserAgent, row.Classification, row.Reason, row.Timestamp)
	if err != nil {
		return fmt.Errorf("insert realtime event: %w", err)
	}
	return nil
}

// InsertCapturedEmail writes one captured-email row.
func (r *LogRepo) InsertCapturedEmail(ctx context.Context, row *domain.CapturedEmail) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO captured_emails (id, email, parameter_format,
			redirect_id, ip, country, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, row.ID, row.Email, row.ParameterFormat,
		row.RedirectID, row.IP, row.Country, row.Timestamp)
	if err != nil {
		return fmt.Errorf("insert captured email: %w", err)
	}
	return nil
}

// TrimRealtimeEvents keeps only the newest keep rows.
func (r *LogRepo) TrimRealtimeEvents(ctx context.Context, keep int) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM realtime_events
		WHERE id NOT IN (
			SELECT id FROM realtime_events
			ORDER BY ts DESC
			LIMIT $1
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("trim realtime events: %w", err)
	}
	return nil
}

// PurgeVisitorLogs deletes rows older than cutoff and reports how many.
func (r *LogRepo) PurgeVisitorLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM visitor_logs WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge visitor logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge visitor logs: %w", err)
	}
	return n, nil
}
