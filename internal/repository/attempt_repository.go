package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/prepa-tools/colloscope-api/internal/models"
)

// AttemptRepository persists solve attempt audit records.
type AttemptRepository struct {
	db *sqlx.DB
}

// NewAttemptRepository constructs the repository.
func NewAttemptRepository(db *sqlx.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Create stores one finished attempt.
func (r *AttemptRepository) Create(ctx context.Context, attempt *models.SolveAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	const query = `INSERT INTO solve_attempts
	(id, backend, outcome, error_code, objective, gap, assignments, pinned, decision_vars, aux_vars, rows, build_ms, solve_ms, total_ms, started_at, finished_at)
	VALUES (:id, :backend, :outcome, :error_code, :objective, :gap, :assignments, :pinned, :decision_vars, :aux_vars, :rows, :build_ms, :solve_ms, :total_ms, :started_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, attempt); err != nil {
		return fmt.Errorf("create solve attempt: %w", err)
	}
	return nil
}

// GetByID retrieves one attempt row.
func (r *AttemptRepository) GetByID(ctx context.Context, id string) (*models.SolveAttempt, error) {
	const query = `SELECT id, backend, outcome, error_code, objective, gap, assignments, pinned,
       decision_vars, aux_vars, rows, build_ms, solve_ms, total_ms, started_at, finished_at
	FROM solve_attempts WHERE id = $1`
	var attempt models.SolveAttempt
	if err := r.db.GetContext(ctx, &attempt, query, id); err != nil {
		return nil, err
	}
	return &attempt, nil
}

// List returns attempts applying filters, newest first.
func (r *AttemptRepository) List(ctx context.Context, filter models.AttemptFilter) ([]models.SolveAttempt, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT id, backend, outcome, error_code, objective, gap, assignments, pinned,
       decision_vars, aux_vars, rows, build_ms, solve_ms, total_ms, started_at, finished_at FROM solve_attempts`)
	args := make([]interface{}, 0, 3)
	conditions := make([]string, 0, 3)

	if filter.Outcome != "" {
		args = append(args, filter.Outcome)
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", len(args)))
	}
	if filter.Backend != "" {
		args = append(args, filter.Backend)
		conditions = append(conditions, fmt.Sprintf("backend = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		conditions = append(conditions, fmt.Sprintf("started_at >= $%d", len(args)))
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY started_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var records []models.SolveAttempt
	if err := r.db.SelectContext(ctx, &records, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list solve attempts: %w", err)
	}
	return records, nil
}

// Count returns the number of attempts matching the filter, for pagination.
func (r *AttemptRepository) Count(ctx context.Context, filter models.AttemptFilter) (int, error) {
	builder := strings.Builder{}
	builder.WriteString("SELECT COUNT(*) FROM solve_attempts")
	args := make([]interface{}, 0, 3)
	conditions := make([]string, 0, 3)

	if filter.Outcome != "" {
		args = append(args, filter.Outcome)
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", len(args)))
	}
	if filter.Backend != "" {
		args = append(args, filter.Backend)
		conditions = append(conditions, fmt.Sprintf("backend = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		conditions = append(conditions, fmt.Sprintf("started_at >= $%d", len(args)))
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	var total int
	if err := r.db.GetContext(ctx, &total, builder.String(), args...); err != nil {
		return 0, fmt.Errorf("count solve attempts: %w", err)
	}
	return total, nil
}
