package port

import (
	"context"
	"time"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
)

// IdentityRepository exposes persistence behavior for identities.
type IdentityRepository interface {
	Create(ctx context.Context, identity domain.Identity) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Identity, error)
	GetByHandle(ctx context.Context, handle string) (*domain.Identity, error)
	GetByContact(ctx context.Context, contact string) (*domain.Identity, error)
	UpdateCredential(ctx context.Context, id int64, credentialHash, credentialAlgo string, changedAt time.Time) error
	UpdateLastActivity(ctx context.Context, id int64, at time.Time) error
	SetSecondFactorEnabled(ctx context.Context, id int64, enabled bool) error
	UpdateStatus(ctx context.Context, id int64, status domain.IdentityStatus) error
	DeactivateDormant(ctx context.Context, inactiveSince time.Time) (int, error)
}

// HistoryRepository persists prior credential hashes. Append inserts the
// entry and prunes rows beyond keep in a single repository-owned
// transaction.
type HistoryRepository interface {
	Append(ctx context.Context, entry domain.CredentialHistoryEntry, keep int) error
	ListRecent(ctx context.Context, identityID int64, limit int) ([]domain.CredentialHistoryEntry, error)
}
