package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
	"github.com/inkwell-labs/identity-core/internal/core/port"
	"github.com/inkwell-labs/identity-core/internal/infra/logger"
)

// AttemptLedger records authentication attempts and derives lockout state
// from the stored rows. No counter is kept anywhere; every lockout decision
// re-reads the recent failures.
type AttemptLedger struct {
	attempts  port.AttemptRepository
	threshold int
	window    time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewAttemptLedger constructs a ledger with the given lockout policy.
func NewAttemptLedger(attempts port.AttemptRepository, threshold int, window time.Duration, log *zap.Logger) *AttemptLedger {
	if log == nil {
		log = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &AttemptLedger{
		attempts:  attempts,
		threshold: threshold,
		window:    window,
		logger:    log,
		now:       time.Now,
	}
}

// WithClock overrides the time source for tests.
func (l *AttemptLedger) WithClock(clock func() time.Time) *AttemptLedger {
	if clock != nil {
		l.now = clock
	}
	return l
}

// Record appends an attempt row. Recording is fail-open: a storage error is
// logged and swallowed so a ledger outage cannot block sign-in entirely.
func (l *AttemptLedger) Record(ctx context.Context, identifier string, succeeded bool, reason string) {
	record := domain.AttemptRecord{
		Identifier: identifier,
		Succeeded:  succeeded,
		Reason:     reason,
		CreatedAt:  l.now().UTC(),
	}

	if err := l.attempts.Insert(ctx, record); err != nil {
		l.logger.Error("record login attempt",
			zap.Error(err),
			zap.String("identifier", logger.MaskIdentifier(identifier)),
			zap.Bool("succeeded", succeeded),
		)
	}
}

// RemainingLockout returns how long the identifier stays locked out, or
// zero when it is not locked. The window rolls: the lockout ends when the
// threshold-th most recent failure ages past the window. A read failure
// fails open (not locked) so a ledger outage cannot lock everyone out.
func (l *AttemptLedger) RemainingLockout(ctx context.Context, identifier string) time.Duration {
	now := l.now().UTC()

	failures, err := l.attempts.RecentFailures(ctx, identifier, now.Add(-l.window), l.threshold)
	if err != nil {
		l.logger.Error("load recent failures",
			zap.Error(err),
			zap.String("identifier", logger.MaskIdentifier(identifier)),
		)
		return 0
	}
	if len(failures) < l.threshold {
		return 0
	}

	// failures come back newest first, so the last element is the
	// threshold-th most recent one.
	unlockAt := failures[l.threshold-1].Add(l.window)
	if !unlockAt.After(now) {
		return 0
	}

	return unlockAt.Sub(now)
}
