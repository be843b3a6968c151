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

// ChallengeRepository implements port.ChallengeRepository using PostgreSQL.
// Attempt counting and consumption are single guarded statements so
// concurrent verifications race on the database row, not on stale reads.
type ChallengeRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewChallengeRepository wires a PostgreSQL-backed challenge repository.
func NewChallengeRepository(exec pgExecutor) *ChallengeRepository {
	return &ChallengeRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var challengeColumns = []string{
	"id",
	"subject_id",
	"purpose",
	"code_hash",
	"attempts",
	"locked",
	"created_at",
	"expires_at",
	"used_at",
}

// Create inserts a new challenge row and returns the generated id.
func (r *ChallengeRepository) Create(ctx context.Context, challenge domain.Challenge) (int64, error) {
	stmt, args, err := r.builder.Insert("identity.challenges").
		Columns("subject_id", "purpose", "code_hash", "attempts", "locked", "created_at", "expires_at").
		Values(
			challenge.SubjectID,
			challenge.Purpose,
			challenge.CodeHash,
			challenge.Attempts,
			challenge.Locked,
			challenge.CreatedAt,
			challenge.ExpiresAt,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert challenge sql: %w", err)
	}

	var id int64
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert challenge: %w", err)
	}

	return id, nil
}

// GetMostRecent returns the newest challenge for (subject, purpose)
// regardless of state.
func (r *ChallengeRepository) GetMostRecent(ctx context.Context, subjectID int64, purpose domain.ChallengePurpose) (*domain.Challenge, error) {
	query := r.builder.
		Select(challengeColumns...).
		From("identity.challenges").
		Where(squirrel.Eq{"subject_id": subjectID, "purpose": purpose}).
		OrderBy("created_at DESC", "id DESC").
		Limit(1)

	return r.getOne(ctx, query)
}

// GetMostRecentUsable returns the newest unused, unexpired challenge for
// (subject, purpose). A locked row still matches so callers can surface the
// locked state instead of silently treating it as absent.
func (r *ChallengeRepository) GetMostRecentUsable(ctx context.Context, subjectID int64, purpose domain.ChallengePurpose, at time.Time) (*domain.Challenge, error) {
	query := r.builder.
		Select(challengeColumns...).
		From("identity.challenges").
		Where(squirrel.Eq{"subject_id": subjectID, "purpose": purpose, "used_at": nil}).
		Where(squirrel.Gt{"expires_at": at}).
		OrderBy("created_at DESC", "id DESC").
		Limit(1)

	return r.getOne(ctx, query)
}

func (r *ChallengeRepository) getOne(ctx context.Context, query squirrel.SelectBuilder) (*domain.Challenge, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select challenge sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		challenge domain.Challenge
		usedAt    *time.Time
	)
	if err := row.Scan(
		&challenge.ID,
		&challenge.SubjectID,
		&challenge.Purpose,
		&challenge.CodeHash,
		&challenge.Attempts,
		&challenge.Locked,
		&challenge.CreatedAt,
		&challenge.ExpiresAt,
		&usedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan challenge: %w", err)
	}
	challenge.UsedAt = usedAt

	return &challenge, nil
}

// IncrementAttempts atomically bumps the counter and returns the
// post-increment value.
func (r *ChallengeRepository) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	const stmt = `
		UPDATE identity.challenges
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts`

	var attempts int
	if err := r.exec.QueryRow(ctx, stmt, id).Scan(&attempts); err != nil {
		if err == pgx.ErrNoRows {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("increment challenge attempts: %w", err)
	}

	return attempts, nil
}

// Lock marks the challenge locked. Idempotent: locking an already locked
// challenge succeeds.
func (r *ChallengeRepository) Lock(ctx context.Context, id int64) error {
	stmt, args, err := r.builder.Update("identity.challenges").
		Set("locked", true).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build lock challenge sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("lock challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// MarkUsed consumes the challenge, guarded on the unused state. A zero row
// count means another caller won the race.
func (r *ChallengeRepository) MarkUsed(ctx context.Context, id int64, at time.Time) error {
	stmt, args, err := r.builder.Update("identity.challenges").
		Set("used_at", at).
		Where(squirrel.Eq{"id": id, "used_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark challenge used sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark challenge used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// PurgeExpired removes challenges that expired before the cutoff and
// returns how many were deleted.
func (r *ChallengeRepository) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.Delete("identity.challenges").
		Where(squirrel.Lt{"expires_at": before}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge challenges sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge challenges: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

var _ port.ChallengeRepository = (*ChallengeRepository)(nil)
