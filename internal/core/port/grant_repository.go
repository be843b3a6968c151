package port

import (
	"context"
	"time"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
)

// GrantRepository persists refresh grants (token hashes only).
type GrantRepository interface {
	Create(ctx context.Context, grant domain.RefreshGrant) error
	GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshGrant, error)
	// Revoke marks the grant revoked, guarded on the unrevoked state:
	// repository.ErrNotFound signals the grant was already claimed, which is
	// how rotation replay is detected.
	Revoke(ctx context.Context, id string, at time.Time) error
	// RevokeAllForSubject revokes every live grant for the subject and
	// returns how many transitioned.
	RevokeAllForSubject(ctx context.Context, subjectID int64, at time.Time) (int, error)
	// PurgeStale removes grants expired or revoked before the cutoff.
	PurgeStale(ctx context.Context, before time.Time) (int, error)
}
