package port

import (
	"context"
	"time"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
)

// ChallengeRepository persists one-time code challenges. The mutating
// operations are single atomic statements so two concurrent verifications
// cannot both pass a read-check-write sequence on the same row.
type ChallengeRepository interface {
	Create(ctx context.Context, challenge domain.Challenge) (int64, error)
	// GetMostRecent returns the newest challenge for (subject, purpose)
	// regardless of state; repository.ErrNotFound when none exists.
	GetMostRecent(ctx context.Context, subjectID int64, purpose domain.ChallengePurpose) (*domain.Challenge, error)
	// GetMostRecentUsable returns the newest unused, unexpired challenge for
	// (subject, purpose). Locked challenges are still returned so the caller
	// can report the locked state.
	GetMostRecentUsable(ctx context.Context, subjectID int64, purpose domain.ChallengePurpose, at time.Time) (*domain.Challenge, error)
	// IncrementAttempts atomically bumps the attempt counter and returns the
	// post-increment value.
	IncrementAttempts(ctx context.Context, id int64) (int, error)
	// Lock marks the challenge locked; idempotent.
	Lock(ctx context.Context, id int64) error
	// MarkUsed consumes the challenge. Guarded on the unused state: returns
	// repository.ErrNotFound when another caller already consumed it.
	MarkUsed(ctx context.Context, id int64, at time.Time) error
	// PurgeExpired removes challenges whose expiry or consumption happened
	// before the cutoff; returns the number deleted.
	PurgeExpired(ctx context.Context, before time.Time) (int, error)
}
