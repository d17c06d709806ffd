// Package store implements the moderation repository on PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
	apperrors "github.com/Significant-Gravitas/AutoModerate/pkg/errors"
	"github.com/Significant-Gravitas/AutoModerate/pkg/logger"
	"github.com/Significant-Gravitas/AutoModerate/pkg/postgres"
)

// Postgres persists content items, rules, and evaluation outcomes.
type Postgres struct {
	client *postgres.Client
	logger *slog.Logger
}

// NewPostgres creates a repository over an established connection pool.
func NewPostgres(client *postgres.Client) *Postgres {
	return &Postgres{
		client: client,
		logger: logger.WithComponent("store"),
	}
}

// EnsureSchema creates the tables and indexes if they do not exist.
// Idempotent; runs at startup.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS content_items (
			id           TEXT PRIMARY KEY,
			project_id   TEXT NOT NULL,
			content_type TEXT NOT NULL,
			content_data TEXT NOT NULL,
			metadata     JSONB,
			status       TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_content_items_project
			ON content_items (project_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS moderation_rules (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name       TEXT NOT NULL,
			rule_type  TEXT NOT NULL,
			config     JSONB NOT NULL,
			action     TEXT NOT NULL,
			priority   INT NOT NULL DEFAULT 0,
			is_active  BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_moderation_rules_project
			ON moderation_rules (project_id) WHERE is_active`,
		`CREATE TABLE IF NOT EXISTS evaluation_outcomes (
			id          TEXT PRIMARY KEY,
			content_id  TEXT NOT NULL REFERENCES content_items (id) ON DELETE CASCADE,
			decision    TEXT NOT NULL,
			confidence  DOUBLE PRECISION NOT NULL,
			reason      TEXT NOT NULL,
			evaluator   TEXT NOT NULL,
			rule_id     TEXT,
			rule_name   TEXT,
			duration_ms BIGINT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_evaluation_outcomes_content
			ON evaluation_outcomes (content_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.client.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	s.logger.Info("schema ensured")
	return nil
}

// ActiveRules returns a project's active rules ordered by priority, then
// creation time for stable tie order.
func (s *Postgres) ActiveRules(ctx context.Context, projectID string) ([]moderation.Rule, error) {
	rows, err := s.client.DB.QueryContext(ctx, `
		SELECT id, project_id, name, rule_type, config, action, priority, is_active, created_at
		FROM moderation_rules
		WHERE project_id = $1 AND is_active
		ORDER BY priority, created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying rules for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var rules []moderation.Rule
	for rows.Next() {
		var r moderation.Rule
		var rawConfig []byte
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Kind, &rawConfig,
			&r.Action, &r.Priority, &r.Active, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		if err := json.Unmarshal(rawConfig, &r.Config); err != nil {
			// A corrupt config must not take the whole rule set down.
			s.logger.Warn("rule config unreadable, skipping rule",
				"rule_id", r.ID, "error", err)
			continue
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// SaveContentItem inserts a new item in pending state.
func (s *Postgres) SaveContentItem(ctx context.Context, item *moderation.ContentItem) error {
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	_, err = s.client.DB.ExecContext(ctx, `
		INSERT INTO content_items (id, project_id, content_type, content_data, metadata, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.ProjectID, item.Type, item.Data, metadata, item.Status,
		item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting content item %s: %w", item.ID, err)
	}
	return nil
}

// FinalizeDecision writes the terminal status and the outcome list in one
// transaction so the audit trail and the status never diverge.
func (s *Postgres) FinalizeDecision(ctx context.Context, contentID string, status moderation.Status, outcomes []moderation.EvaluationOutcome) error {
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE content_items SET status = $1, updated_at = $2 WHERE id = $3`,
			status, time.Now().UTC(), contentID)
		if err != nil {
			return fmt.Errorf("updating status for %s: %w", contentID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperrors.Newf(apperrors.ErrContentNotFound, "content item %s", contentID)
		}

		for _, out := range outcomes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO evaluation_outcomes (id, content_id, decision, confidence, reason, evaluator, rule_id, rule_name, duration_ms, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)`,
				out.ID, contentID, out.Decision, out.Confidence, out.Reason,
				out.Evaluator, out.RuleID, out.RuleName,
				out.Duration.Milliseconds(), out.CreatedAt); err != nil {
				return fmt.Errorf("inserting outcome for %s: %w", contentID, err)
			}
		}
		return nil
	})
}

// ContentItem loads an item with its outcomes in evaluation order.
func (s *Postgres) ContentItem(ctx context.Context, id string) (*moderation.ContentItem, []moderation.EvaluationOutcome, error) {
	var item moderation.ContentItem
	var metadata []byte
	err := s.client.DB.QueryRowContext(ctx, `
		SELECT id, project_id, content_type, content_data, metadata, status, created_at, updated_at
		FROM content_items WHERE id = $1`, id).Scan(
		&item.ID, &item.ProjectID, &item.Type, &item.Data, &metadata,
		&item.Status, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, apperrors.Newf(apperrors.ErrContentNotFound, "content item %s", id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading content item %s: %w", id, err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return nil, nil, fmt.Errorf("decoding metadata for %s: %w", id, err)
		}
	}

	rows, err := s.client.DB.QueryContext(ctx, `
		SELECT id, content_id, decision, confidence, reason, evaluator,
			COALESCE(rule_id, ''), COALESCE(rule_name, ''), duration_ms, created_at
		FROM evaluation_outcomes WHERE content_id = $1
		ORDER BY created_at, id`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("loading outcomes for %s: %w", id, err)
	}
	defer rows.Close()

	var outcomes []moderation.EvaluationOutcome
	for rows.Next() {
		var out moderation.EvaluationOutcome
		var durationMs int64
		if err := rows.Scan(&out.ID, &out.ContentID, &out.Decision, &out.Confidence,
			&out.Reason, &out.Evaluator, &out.RuleID, &out.RuleName,
			&durationMs, &out.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scanning outcome: %w", err)
		}
		out.Duration = time.Duration(durationMs) * time.Millisecond
		outcomes = append(outcomes, out)
	}
	return &item, outcomes, rows.Err()
}

// ProjectStats aggregates status counts for a project.
func (s *Postgres) ProjectStats(ctx context.Context, projectID string) (moderation.ProjectStats, error) {
	rows, err := s.client.DB.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM content_items
		WHERE project_id = $1 GROUP BY status`, projectID)
	if err != nil {
		return moderation.ProjectStats{}, fmt.Errorf("aggregating stats for %s: %w", projectID, err)
	}
	defer rows.Close()

	var stats moderation.ProjectStats
	for rows.Next() {
		var status moderation.Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return moderation.ProjectStats{}, fmt.Errorf("scanning stats: %w", err)
		}
		stats.Total += count
		switch status {
		case moderation.StatusApproved:
			stats.Approved = count
		case moderation.StatusRejected:
			stats.Rejected = count
		case moderation.StatusFlagged:
			stats.Flagged = count
		case moderation.StatusPending:
			stats.Pending = count
		}
	}
	if err := rows.Err(); err != nil {
		return moderation.ProjectStats{}, err
	}
	if decided := stats.Total - stats.Pending; decided > 0 {
		stats.ApprovalRate = float64(stats.Approved) / float64(decided)
	}
	return stats, nil
}
