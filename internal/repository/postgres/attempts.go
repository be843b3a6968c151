package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
	"github.com/inkwell-labs/identity-core/internal/core/port"
)

// AttemptRepository implements port.AttemptRepository using PostgreSQL.
// Rows are append-only; lockout state is always derived by querying, never
// stored as a counter.
type AttemptRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAttemptRepository wires a PostgreSQL-backed attempt repository.
func NewAttemptRepository(exec pgExecutor) *AttemptRepository {
	return &AttemptRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Insert appends a single attempt row.
func (r *AttemptRepository) Insert(ctx context.Context, record domain.AttemptRecord) error {
	stmt, args, err := r.builder.Insert("identity.login_attempts").
		Columns("identifier", "succeeded", "reason", "created_at").
		Values(record.Identifier, record.Succeeded, record.Reason, record.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert attempt sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	return nil
}

// RecentFailures returns failure timestamps for the identifier since the
// cutoff, newest first, capped at limit.
func (r *AttemptRepository) RecentFailures(ctx context.Context, identifier string, since time.Time, limit int) ([]time.Time, error) {
	stmt, args, err := r.builder.
		Select("created_at").
		From("identity.login_attempts").
		Where(squirrel.Eq{"identifier": identifier, "succeeded": false}).
		Where(squirrel.GtOrEq{"created_at": since}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select failures sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select failures: %w", err)
	}
	defer rows.Close()

	var timestamps []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan failure timestamp: %w", err)
		}
		timestamps = append(timestamps, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failure rows: %w", err)
	}

	return timestamps, nil
}

var _ port.AttemptRepository = (*AttemptRepository)(nil)
