package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
	"github.com/inkwell-labs/identity-core/internal/core/port"
)

// HistoryRepository implements port.HistoryRepository using PostgreSQL.
type HistoryRepository struct {
	pool    pgPool
	builder squirrel.StatementBuilderType
}

// NewHistoryRepository wires a PostgreSQL-backed credential history repository.
func NewHistoryRepository(pool pgPool) *HistoryRepository {
	return &HistoryRepository{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Append inserts the entry and prunes rows beyond keep inside one
// transaction, so the retained window never over- or under-shoots under
// concurrent writers.
func (r *HistoryRepository) Append(ctx context.Context, entry domain.CredentialHistoryEntry, keep int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertSQL, insertArgs, err := r.builder.Insert("identity.credential_history").
		Columns("identity_id", "credential_hash", "recorded_at").
		Values(entry.IdentityID, entry.CredentialHash, entry.RecordedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert history sql: %w", err)
	}
	if _, err := tx.Exec(ctx, insertSQL, insertArgs...); err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}

	if keep > 0 {
		trimSQL := `
			DELETE FROM identity.credential_history
			WHERE identity_id = $1
			  AND id NOT IN (
				SELECT id FROM identity.credential_history
				WHERE identity_id = $1
				ORDER BY recorded_at DESC, id DESC
				LIMIT $2
			  )`
		if _, err := tx.Exec(ctx, trimSQL, entry.IdentityID, keep); err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit history tx: %w", err)
	}

	return nil
}

// ListRecent returns the newest history entries for the identity, newest
// first, capped at limit.
func (r *HistoryRepository) ListRecent(ctx context.Context, identityID int64, limit int) ([]domain.CredentialHistoryEntry, error) {
	stmt, args, err := r.builder.
		Select("id", "identity_id", "credential_hash", "recorded_at").
		From("identity.credential_history").
		Where(squirrel.Eq{"identity_id": identityID}).
		OrderBy("recorded_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select history sql: %w", err)
	}

	rows, err := r.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var entries []domain.CredentialHistoryEntry
	for rows.Next() {
		var entry domain.CredentialHistoryEntry
		if err := rows.Scan(&entry.ID, &entry.IdentityID, &entry.CredentialHash, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	return entries, nil
}

var _ port.HistoryRepository = (*HistoryRepository)(nil)
