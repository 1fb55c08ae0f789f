package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/cloak-gateway/internal/domain"
)

// RuleRepo reads the operator rule tables. The gateway never writes them.
type RuleRepo struct{ db *sql.DB }

// NewRuleRepo creates a Postgres-backed rule repository.
func NewRuleRepo(db *sql.DB) *RuleRepo { return &RuleRepo{db: db} }

// ListISPRules returns all enabled ISP substring rules.
func (r *RuleRepo) ListISPRules(ctx context.Context) ([]domain.ISPRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT pattern, classification, COALESCE(reason, '')
		FROM isp_configs
		WHERE enabled
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list isp rules: %w", err)
	}
	defer rows.Close()

	var out []domain.ISPRule
	for rows.Next() {
		var rule domain.ISPRule
		if err := rows.Scan(&rule.Pattern, &rule.Classification, &rule.Reason); err != nil {
			return nil, fmt.Errorf("scan isp rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// ListUAPatterns returns all enabled user-agent patterns.
func (r *RuleRepo) ListUAPatterns(ctx context.Context) ([]domain.UAPattern, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT pattern, category, COALESCE(reason, '')
		FROM user_agent_patterns
		WHERE enabled
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list ua patterns: %w", err)
	}
	defer rows.Close()

	var out []domain.UAPattern
	for rows.Next() {
		var p domain.UAPattern
		if err := rows.Scan(&p.Pattern, &p.Category, &p.Reason); err != nil {
			return nil, fmt.Errorf("scan ua pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
