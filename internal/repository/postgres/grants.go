package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
	"github.com/inkwell-labs/identity-core/internal/core/port"
	"github.com/inkwell-labs/identity-core/internal/repository"
)

// GrantRepository implements port.GrantRepository using PostgreSQL.
// Revoke is a guarded single statement: only one of two racing rotations can
// flip the row, the loser sees zero rows and reports replay.
type GrantRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewGrantRepository wires a PostgreSQL-backed refresh grant repository.
func NewGrantRepository(exec pgExecutor) *GrantRepository {
	return &GrantRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a new refresh grant row.
func (r *GrantRepository) Create(ctx context.Context, grant domain.RefreshGrant) error {
	stmt, args, err := r.builder.Insert("identity.refresh_grants").
		Columns("id", "subject_id", "token_hash", "created_at", "expires_at", "metadata").
		Values(
			grant.ID,
			grant.SubjectID,
			grant.TokenHash,
			grant.CreatedAt,
			grant.ExpiresAt,
			grant.Metadata,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert grant sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert grant: %w", translateError(err))
	}

	return nil
}

// GetByHash retrieves a grant by its token hash.
func (r *GrantRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshGrant, error) {
	stmt, args, err := r.builder.
		Select("id", "subject_id", "token_hash", "created_at", "expires_at", "revoked_at", "metadata").
		From("identity.refresh_grants").
		Where(squirrel.Eq{"token_hash": tokenHash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select grant sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		grant     domain.RefreshGrant
		revokedAt *time.Time
	)
	if err := row.Scan(
		&grant.ID,
		&grant.SubjectID,
		&grant.TokenHash,
		&grant.CreatedAt,
		&grant.ExpiresAt,
		&revokedAt,
		&grant.Metadata,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan grant: %w", err)
	}
	grant.RevokedAt = revokedAt

	return &grant, nil
}

// Revoke flips the grant into the revoked state, guarded on it still being
// live. Zero rows means the grant was already claimed.
func (r *GrantRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update("identity.refresh_grants").
		Set("revoked_at", at).
		Where(squirrel.Eq{"id": id, "revoked_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke grant sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// RevokeAllForSubject revokes every live grant for the subject and returns
// how many rows transitioned.
func (r *GrantRepository) RevokeAllForSubject(ctx context.Context, subjectID int64, at time.Time) (int, error) {
	stmt, args, err := r.builder.Update("identity.refresh_grants").
		Set("revoked_at", at).
		Where(squirrel.Eq{"subject_id": subjectID, "revoked_at": nil}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke all grants sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke all grants: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// PurgeStale removes grants expired or revoked before the cutoff.
func (r *GrantRepository) PurgeStale(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.Delete("identity.refresh_grants").
		Where(squirrel.Or{
			squirrel.Lt{"expires_at": before},
			squirrel.Lt{"revoked_at": before},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge grants sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge grants: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

var _ port.GrantRepository = (*GrantRepository)(nil)
