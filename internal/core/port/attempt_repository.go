package port

import (
	"context"
	"time"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
)

// AttemptRepository is the append-only store behind the login attempt ledger.
type AttemptRepository interface {
	Insert(ctx context.Context, record domain.AttemptRecord) error
	// RecentFailures returns failure timestamps for the identifier since the
	// given instant, newest first, capped at limit.
	RecentFailures(ctx context.Context, identifier string, since time.Time, limit int) ([]time.Time, error)
}
