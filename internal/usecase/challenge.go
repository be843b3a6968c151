package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
	"github.com/inkwell-labs/identity-core/internal/core/port"
	"github.com/inkwell-labs/identity-core/internal/infra/logger"
	"github.com/inkwell-labs/identity-core/internal/infra/security"
	"github.com/inkwell-labs/identity-core/internal/infra/telemetry"
	"github.com/inkwell-labs/identity-core/internal/repository"
)

// ChallengePolicy tunes one-time code issuance and verification.
type ChallengePolicy struct {
	CodeLength  int
	TTL         time.Duration
	Cooldown    time.Duration
	MaxAttempts int
}

// DefaultChallengePolicy returns the production defaults.
func DefaultChallengePolicy() ChallengePolicy {
	return ChallengePolicy{
		CodeLength:  6,
		TTL:         5 * time.Minute,
		Cooldown:    60 * time.Second,
		MaxAttempts: 3,
	}
}

// ChallengeService issues and verifies one-time code challenges. Codes are
// stored hash-only; the clear text exists solely in the dispatch to the
// notification sink.
type ChallengeService struct {
	challenges port.ChallengeRepository
	notifier   port.NotificationSink
	policy     ChallengePolicy
	metrics    *telemetry.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewChallengeService constructs the challenge engine.
func NewChallengeService(
	challenges port.ChallengeRepository,
	notifier port.NotificationSink,
	policy ChallengePolicy,
	metrics *telemetry.Metrics,
	log *zap.Logger,
) *ChallengeService {
	if log == nil {
		log = zap.NewNop()
	}
	if policy.CodeLength <= 0 {
		policy.CodeLength = 6
	}
	if policy.TTL <= 0 {
		policy.TTL = 5 * time.Minute
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	return &ChallengeService{
		challenges: challenges,
		notifier:   notifier,
		policy:     policy,
		metrics:    metrics,
		logger:     log,
		now:        time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *ChallengeService) WithClock(clock func() time.Time) *ChallengeService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Issue creates a fresh challenge for (subject, purpose) and dispatches the
// code to destination. The cooldown is anchored to the previous challenge's
// creation time no matter what state that challenge ended in, so a used or
// locked code still blocks immediate re-issue.
func (s *ChallengeService) Issue(ctx context.Context, subjectID int64, purpose domain.ChallengePurpose, destination string) (time.Time, error) {
	if !purpose.Valid() {
		return time.Time{}, fmt.Errorf("unknown challenge purpose %q", purpose)
	}

	now := s.now().UTC()

	previous, err := s.challenges.GetMostRecent(ctx, subjectID, purpose)
	if err != nil && !isNotFound(err) {
		return time.Time{}, fmt.Errorf("load previous challenge: %w", err)
	}
	if previous != nil {
		if remaining := previous.CooldownRemaining(s.policy.Cooldown, now); remaining > 0 {
			return time.Time{}, &CooldownError{RetryAfter: remaining}
		}
	}

	code, err := security.GenerateNumericCode(s.policy.CodeLength)
	if err != nil {
		return time.Time{}, fmt.Errorf("generate code: %w", err)
	}

	challenge := domain.Challenge{
		SubjectID: subjectID,
		Purpose:   purpose,
		CodeHash:  security.HashToken(code),
		CreatedAt: now,
		ExpiresAt: now.Add(s.policy.TTL),
	}

	if _, err := s.challenges.Create(ctx, challenge); err != nil {
		return time.Time{}, fmt.Errorf("store challenge: %w", err)
	}

	delivery := domain.CodeDelivery{
		EventID:     uuid.NewString(),
		SubjectID:   subjectID,
		Destination: destination,
		Code:        code,
		Purpose:     purpose,
		RequestedAt: now,
		ExpiresAt:   challenge.ExpiresAt,
	}
	if s.metrics != nil {
		s.metrics.CodesIssued.WithLabelValues(string(purpose)).Inc()
	}

	if err := s.notifier.Dispatch(ctx, delivery); err != nil {
		// The challenge row is already committed and stays valid. The
		// caller gets a distinct error so it can offer a delivery retry.
		s.logger.Error("dispatch code delivery",
			zap.Error(err),
			zap.String("destination", logger.MaskIdentifier(destination)),
			zap.String("purpose", string(purpose)),
		)
		return challenge.ExpiresAt, ErrNotificationFailed
	}

	return challenge.ExpiresAt, nil
}

// Verify checks code against the newest usable challenge for (subject,
// purpose). Every submission consumes one attempt; exhausting the budget
// locks the challenge permanently.
func (s *ChallengeService) Verify(ctx context.Context, subjectID int64, purpose domain.ChallengePurpose, code string) error {
	if !purpose.Valid() {
		return fmt.Errorf("unknown challenge purpose %q", purpose)
	}

	now := s.now().UTC()

	challenge, err := s.challenges.GetMostRecentUsable(ctx, subjectID, purpose, now)
	if err != nil {
		if isNotFound(err) {
			s.countVerify("missing")
			return ErrCodeInvalidOrExpired
		}
		return fmt.Errorf("load challenge: %w", err)
	}

	if challenge.Locked {
		s.countVerify("locked")
		return ErrCodeLocked
	}

	attempts, err := s.challenges.IncrementAttempts(ctx, challenge.ID)
	if err != nil {
		return fmt.Errorf("count challenge attempt: %w", err)
	}
	if attempts > s.policy.MaxAttempts {
		if err := s.challenges.Lock(ctx, challenge.ID); err != nil {
			return fmt.Errorf("lock challenge: %w", err)
		}
		s.countVerify("locked")
		return ErrCodeLocked
	}

	if subtle.ConstantTimeCompare([]byte(security.HashToken(code)), []byte(challenge.CodeHash)) != 1 {
		if attempts >= s.policy.MaxAttempts {
			if err := s.challenges.Lock(ctx, challenge.ID); err != nil {
				return fmt.Errorf("lock challenge: %w", err)
			}
			s.countVerify("locked")
			return ErrCodeLocked
		}
		s.countVerify("mismatch")
		return &CodeMismatchError{Remaining: s.policy.MaxAttempts - attempts}
	}

	if err := s.challenges.MarkUsed(ctx, challenge.ID, now); err != nil {
		if isNotFound(err) {
			// Another verification consumed the challenge first.
			s.countVerify("raced")
			return ErrCodeInvalidOrExpired
		}
		return fmt.Errorf("consume challenge: %w", err)
	}

	s.countVerify("ok")
	return nil
}

// CooldownRemaining reports how long until a fresh code can be issued for
// (subject, purpose). Zero means issue would be accepted now.
func (s *ChallengeService) CooldownRemaining(ctx context.Context, subjectID int64, purpose domain.ChallengePurpose) (time.Duration, error) {
	previous, err := s.challenges.GetMostRecent(ctx, subjectID, purpose)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("load previous challenge: %w", err)
	}
	return previous.CooldownRemaining(s.policy.Cooldown, s.now().UTC()), nil
}

// AttemptsRemaining reports the attempt budget left on the challenge that
// Verify would select. Zero means no usable challenge or none left.
func (s *ChallengeService) AttemptsRemaining(ctx context.Context, subjectID int64, purpose domain.ChallengePurpose) (int, error) {
	challenge, err := s.challenges.GetMostRecentUsable(ctx, subjectID, purpose, s.now().UTC())
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("load challenge: %w", err)
	}
	if challenge.Locked {
		return 0, nil
	}
	remaining := s.policy.MaxAttempts - challenge.Attempts
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// IsLocked reports whether the challenge Verify would select has exhausted
// its attempt budget.
func (s *ChallengeService) IsLocked(ctx context.Context, subjectID int64, purpose domain.ChallengePurpose) (bool, error) {
	challenge, err := s.challenges.GetMostRecentUsable(ctx, subjectID, purpose, s.now().UTC())
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("load challenge: %w", err)
	}
	return challenge.Locked || challenge.Attempts >= s.policy.MaxAttempts, nil
}

func (s *ChallengeService) countVerify(result string) {
	if s.metrics != nil {
		s.metrics.CodeVerifies.WithLabelValues(result).Inc()
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
