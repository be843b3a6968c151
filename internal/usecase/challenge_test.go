package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
)

func newTestChallengeService(repo *memChallengeRepo, notifier *captureNotifier, clock func() time.Time) *ChallengeService {
	return NewChallengeService(repo, notifier, DefaultChallengePolicy(), nil, zap.NewNop()).
		WithClock(clock)
}

func TestChallengeIssueAndVerify(t *testing.T) {
	repo := newMemChallengeRepo()
	notifier := &captureNotifier{}
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestChallengeService(repo, notifier, func() time.Time { return current })

	ctx := context.Background()

	expires, err := svc.Issue(ctx, 1, domain.PurposeLoginStepUp, "alice@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got, want := expires, current.Add(5*time.Minute); !got.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, got)
	}

	code := notifier.lastCode()
	if len(code) != 6 {
		t.Fatalf("expected 6 digit code, got %q", code)
	}

	if err := svc.Verify(ctx, 1, domain.PurposeLoginStepUp, code); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// The challenge is consumed; the same code cannot pass twice.
	if err := svc.Verify(ctx, 1, domain.PurposeLoginStepUp, code); !errors.Is(err, ErrCodeInvalidOrExpired) {
		t.Fatalf("expected ErrCodeInvalidOrExpired on reuse, got %v", err)
	}
}

func TestChallengeCooldownAnchoredToIssueTime(t *testing.T) {
	repo := newMemChallengeRepo()
	notifier := &captureNotifier{}
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestChallengeService(repo, notifier, func() time.Time { return current })

	ctx := context.Background()

	if _, err := svc.Issue(ctx, 1, domain.PurposeCredentialReset, "alice@example.com"); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Consuming the code does not release the cooldown early.
	code := notifier.lastCode()
	if err := svc.Verify(ctx, 1, domain.PurposeCredentialReset, code); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	current = current.Add(30 * time.Second)
	_, err := svc.Issue(ctx, 1, domain.PurposeCredentialReset, "alice@example.com")
	var cooldown *CooldownError
	if !errors.As(err, &cooldown) {
		t.Fatalf("expected CooldownError, got %v", err)
	}
	if cooldown.RetryAfter != 30*time.Second {
		t.Fatalf("expected retry after 30s, got %s", cooldown.RetryAfter)
	}

	current = current.Add(31 * time.Second)
	if _, err := svc.Issue(ctx, 1, domain.PurposeCredentialReset, "alice@example.com"); err != nil {
		t.Fatalf("Issue after cooldown: %v", err)
	}
}

func TestChallengeExpiry(t *testing.T) {
	repo := newMemChallengeRepo()
	notifier := &captureNotifier{}
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestChallengeService(repo, notifier, func() time.Time { return current })

	ctx := context.Background()

	if _, err := svc.Issue(ctx, 1, domain.PurposeLoginStepUp, "alice@example.com"); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	code := notifier.lastCode()

	current = current.Add(5*time.Minute + time.Second)
	if err := svc.Verify(ctx, 1, domain.PurposeLoginStepUp, code); !errors.Is(err, ErrCodeInvalidOrExpired) {
		t.Fatalf("expected ErrCodeInvalidOrExpired after expiry, got %v", err)
	}
}

func TestChallengeLocksAfterMaxAttempts(t *testing.T) {
	repo := newMemChallengeRepo()
	notifier := &captureNotifier{}
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestChallengeService(repo, notifier, func() time.Time { return current })

	ctx := context.Background()

	if _, err := svc.Issue(ctx, 7, domain.PurposeLoginStepUp, "bob@example.com"); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := svc.Verify(ctx, 7, domain.PurposeLoginStepUp, "000000"); !errors.Is(err, ErrCodeInvalidOrExpired) {
			t.Fatalf("attempt %d: expected ErrCodeInvalidOrExpired, got %v", i+1, err)
		}
	}

	// Third wrong attempt exhausts the budget.
	if err := svc.Verify(ctx, 7, domain.PurposeLoginStepUp, "000000"); !errors.Is(err, ErrCodeLocked) {
		t.Fatalf("expected ErrCodeLocked on third attempt, got %v", err)
	}

	// Even the correct code is rejected once locked, and locking is
	// idempotent across further submissions.
	code := notifier.lastCode()
	if err := svc.Verify(ctx, 7, domain.PurposeLoginStepUp, code); !errors.Is(err, ErrCodeLocked) {
		t.Fatalf("expected ErrCodeLocked for correct code after lock, got %v", err)
	}
	if err := svc.Verify(ctx, 7, domain.PurposeLoginStepUp, code); !errors.Is(err, ErrCodeLocked) {
		t.Fatalf("expected ErrCodeLocked to repeat, got %v", err)
	}
}

func TestChallengeMostRecentWins(t *testing.T) {
	repo := newMemChallengeRepo()
	notifier := &captureNotifier{}
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestChallengeService(repo, notifier, func() time.Time { return current })

	ctx := context.Background()

	if _, err := svc.Issue(ctx, 1, domain.PurposeLoginStepUp, "alice@example.com"); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	firstCode := notifier.lastCode()

	current = current.Add(2 * time.Minute)
	if _, err := svc.Issue(ctx, 1, domain.PurposeLoginStepUp, "alice@example.com"); err != nil {
		t.Fatalf("second Issue: %v", err)
	}
	secondCode := notifier.lastCode()

	// Only the newest challenge is considered; the older code no longer
	// verifies even though its row has not expired.
	if firstCode != secondCode {
		if err := svc.Verify(ctx, 1, domain.PurposeLoginStepUp, firstCode); !errors.Is(err, ErrCodeInvalidOrExpired) {
			t.Fatalf("expected old code rejected, got %v", err)
		}
	}
	if err := svc.Verify(ctx, 1, domain.PurposeLoginStepUp, secondCode); err != nil {
		t.Fatalf("Verify newest: %v", err)
	}
}

func TestChallengeDeliveryFailureKeepsRow(t *testing.T) {
	repo := newMemChallengeRepo()
	notifier := &captureNotifier{err: errors.New("broker down")}
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestChallengeService(repo, notifier, func() time.Time { return current })

	// The caller learns delivery failed, but the committed challenge is not
	// rolled back.
	if _, err := svc.Issue(context.Background(), 1, domain.PurposeLoginStepUp, "alice@example.com"); !errors.Is(err, ErrNotificationFailed) {
		t.Fatalf("expected ErrNotificationFailed, got %v", err)
	}
	if len(repo.rows) != 1 {
		t.Fatalf("expected challenge row committed, got %d rows", len(repo.rows))
	}
}

func TestChallengeMismatchReportsRemainingAttempts(t *testing.T) {
	repo := newMemChallengeRepo()
	notifier := &captureNotifier{}
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestChallengeService(repo, notifier, func() time.Time { return current })

	ctx := context.Background()

	if _, err := svc.Issue(ctx, 1, domain.PurposeLoginStepUp, "alice@example.com"); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var mismatch *CodeMismatchError
	if err := svc.Verify(ctx, 1, domain.PurposeLoginStepUp, "000000"); !errors.As(err, &mismatch) {
		t.Fatalf("expected CodeMismatchError, got %v", err)
	}
	if mismatch.Remaining != 2 {
		t.Fatalf("expected 2 attempts remaining, got %d", mismatch.Remaining)
	}

	remaining, err := svc.AttemptsRemaining(ctx, 1, domain.PurposeLoginStepUp)
	if err != nil {
		t.Fatalf("AttemptsRemaining: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected projection of 2, got %d", remaining)
	}
}

func TestChallengeProjections(t *testing.T) {
	repo := newMemChallengeRepo()
	notifier := &captureNotifier{}
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestChallengeService(repo, notifier, func() time.Time { return current })

	ctx := context.Background()

	remaining, err := svc.CooldownRemaining(ctx, 1, domain.PurposeCredentialReset)
	if err != nil || remaining != 0 {
		t.Fatalf("expected no cooldown before any issue, got %s err %v", remaining, err)
	}

	if _, err := svc.Issue(ctx, 1, domain.PurposeCredentialReset, "alice@example.com"); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	current = current.Add(20 * time.Second)
	remaining, err = svc.CooldownRemaining(ctx, 1, domain.PurposeCredentialReset)
	if err != nil {
		t.Fatalf("CooldownRemaining: %v", err)
	}
	if remaining != 40*time.Second {
		t.Fatalf("expected 40s cooldown left, got %s", remaining)
	}

	locked, err := svc.IsLocked(ctx, 1, domain.PurposeCredentialReset)
	if err != nil || locked {
		t.Fatalf("expected unlocked challenge, got locked=%v err %v", locked, err)
	}

	for i := 0; i < 3; i++ {
		_ = svc.Verify(ctx, 1, domain.PurposeCredentialReset, "000000")
	}
	locked, err = svc.IsLocked(ctx, 1, domain.PurposeCredentialReset)
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if !locked {
		t.Fatal("expected locked after exhausting attempts")
	}
}

func TestChallengeUnknownPurposeRejected(t *testing.T) {
	svc := newTestChallengeService(newMemChallengeRepo(), &captureNotifier{}, time.Now)

	if _, err := svc.Issue(context.Background(), 1, domain.ChallengePurpose("bogus"), "x"); err == nil {
		t.Fatal("expected error for unknown purpose")
	}
	if err := svc.Verify(context.Background(), 1, domain.ChallengePurpose("bogus"), "123456"); err == nil {
		t.Fatal("expected error for unknown purpose")
	}
}
