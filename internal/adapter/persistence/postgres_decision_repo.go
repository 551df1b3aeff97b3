package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
)

// PostgresDecisionRepository persists routing decisions for heuristic tuning
type PostgresDecisionRepository struct {
	db *sql.DB
}

// NewPostgresDecisionRepository creates a new routing decision repository
func NewPostgresDecisionRepository(db *sql.DB) *PostgresDecisionRepository {
	return &PostgresDecisionRepository{db: db}
}

type decisionDetail struct {
	Input           string `json:"input"`
	Fallback        bool   `json:"fallback"`
	StructuredScore int    `json:"structuredScore"`
	DynamicScore    int    `json:"dynamicScore"`
	Error           string `json:"error,omitempty"`
	DurationMs      int64  `json:"durationMs"`
}

// Record saves one routing decision
func (r *PostgresDecisionRepository) Record(ctx context.Context, d domain.RoutingDecision) error {
	detail, err := json.Marshal(decisionDetail{
		Input:           d.Input,
		Fallback:        d.Fallback,
		StructuredScore: d.StructuredScore,
		DynamicScore:    d.DynamicScore,
		Error:           d.Error,
		DurationMs:      d.DurationMs,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal decision detail: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO routing_decisions (id, actor_id, path, reason, success, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		d.ID, d.ActorID, string(d.Path), d.Reason, d.Success, string(detail), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record routing decision: %w", err)
	}
	return nil
}

// Recent lists the latest decisions, newest first
func (r *PostgresDecisionRepository) Recent(ctx context.Context, limit int) ([]domain.RoutingDecision, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, actor_id, path, reason, success, detail, created_at
		FROM routing_decisions
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list routing decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.RoutingDecision
	for rows.Next() {
		var (
			d      domain.RoutingDecision
			path   string
			raw    []byte
			detail decisionDetail
		)
		if err := rows.Scan(&d.ID, &d.ActorID, &path, &d.Reason, &d.Success, &raw, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan routing decision: %w", err)
		}
		if err := json.Unmarshal(raw, &detail); err != nil {
			return nil, fmt.Errorf("failed to unmarshal decision detail: %w", err)
		}
		d.Path = domain.ExecutionPath(path)
		d.Input = detail.Input
		d.Fallback = detail.Fallback
		d.StructuredScore = detail.StructuredScore
		d.DynamicScore = detail.DynamicScore
		d.Error = detail.Error
		d.DurationMs = detail.DurationMs
		out = append(out, d)
	}
	return out, rows.Err()
}
