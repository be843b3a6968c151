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

// IdentityRepository implements port.IdentityRepository using PostgreSQL.
type IdentityRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewIdentityRepository constructs a repository backed by any executor that
// satisfies pgExecutor.
func NewIdentityRepository(exec pgExecutor) *IdentityRepository {
	return &IdentityRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *IdentityRepository) WithTx(tx pgx.Tx) *IdentityRepository {
	if tx == nil {
		return r
	}
	return &IdentityRepository{
		exec:    tx,
		builder: r.builder,
	}
}

var identityColumns = []string{
	"id",
	"handle",
	"contact",
	"credential_hash",
	"credential_algo",
	"second_factor_enabled",
	"status",
	"is_active",
	"created_at",
	"last_activity_at",
}

// Create inserts a new identity row and returns the generated id.
func (r *IdentityRepository) Create(ctx context.Context, identity domain.Identity) (int64, error) {
	stmt, args, err := r.builder.Insert("identity.identities").
		Columns(
			"handle",
			"contact",
			"credential_hash",
			"credential_algo",
			"second_factor_enabled",
			"status",
			"is_active",
			"created_at",
			"last_activity_at",
		).
		Values(
			identity.Handle,
			identity.Contact,
			identity.CredentialHash,
			identity.CredentialAlgo,
			identity.SecondFactorEnabled,
			identity.Status,
			identity.IsActive,
			identity.CreatedAt,
			identity.LastActivityAt,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert identity sql: %w", err)
	}

	var id int64
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert identity: %w", translateError(err))
	}

	return id, nil
}

// GetByID retrieves an identity by its numeric id.
func (r *IdentityRepository) GetByID(ctx context.Context, id int64) (*domain.Identity, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByHandle retrieves an identity by its normalized handle.
func (r *IdentityRepository) GetByHandle(ctx context.Context, handle string) (*domain.Identity, error) {
	return r.getOne(ctx, squirrel.Eq{"handle": handle})
}

// GetByContact retrieves an identity by its out-of-band contact address.
func (r *IdentityRepository) GetByContact(ctx context.Context, contact string) (*domain.Identity, error) {
	return r.getOne(ctx, squirrel.Eq{"contact": contact})
}

func (r *IdentityRepository) getOne(ctx context.Context, pred any) (*domain.Identity, error) {
	stmt, args, err := r.builder.
		Select(identityColumns...).
		From("identity.identities").
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select identity sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var identity domain.Identity
	if err := row.Scan(
		&identity.ID,
		&identity.Handle,
		&identity.Contact,
		&identity.CredentialHash,
		&identity.CredentialAlgo,
		&identity.SecondFactorEnabled,
		&identity.Status,
		&identity.IsActive,
		&identity.CreatedAt,
		&identity.LastActivityAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}

	return &identity, nil
}

// UpdateCredential swaps the stored credential hash and algorithm.
func (r *IdentityRepository) UpdateCredential(ctx context.Context, id int64, credentialHash, credentialAlgo string, changedAt time.Time) error {
	stmt, args, err := r.builder.Update("identity.identities").
		Set("credential_hash", credentialHash).
		Set("credential_algo", credentialAlgo).
		Set("last_activity_at", changedAt).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update credential sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdateLastActivity bumps the activity timestamp.
func (r *IdentityRepository) UpdateLastActivity(ctx context.Context, id int64, at time.Time) error {
	stmt, args, err := r.builder.Update("identity.identities").
		Set("last_activity_at", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update last activity sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update last activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// SetSecondFactorEnabled flips the step-up enrollment flag.
func (r *IdentityRepository) SetSecondFactorEnabled(ctx context.Context, id int64, enabled bool) error {
	stmt, args, err := r.builder.Update("identity.identities").
		Set("second_factor_enabled", enabled).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update second factor sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update second factor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdateStatus transitions the account state.
func (r *IdentityRepository) UpdateStatus(ctx context.Context, id int64, status domain.IdentityStatus) error {
	stmt, args, err := r.builder.Update("identity.identities").
		Set("status", status).
		Set("is_active", status == domain.IdentityStatusActive).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update status sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// DeactivateDormant flips active identities with no activity since the
// cutoff into the dormant state and returns how many transitioned.
func (r *IdentityRepository) DeactivateDormant(ctx context.Context, inactiveSince time.Time) (int, error) {
	stmt, args, err := r.builder.Update("identity.identities").
		Set("status", domain.IdentityStatusDormant).
		Set("is_active", false).
		Where(squirrel.Eq{"status": domain.IdentityStatusActive}).
		Where(squirrel.Lt{"last_activity_at": inactiveSince}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build deactivate dormant sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("deactivate dormant identities: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

var _ port.IdentityRepository = (*IdentityRepository)(nil)
