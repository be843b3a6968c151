package usecase

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown identifiers and wrong secrets
	// alike so callers cannot distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenInvalidOrExpired is the single rejection surfaced for any
	// refresh or pre-auth token problem.
	ErrTokenInvalidOrExpired = errors.New("token invalid or expired")
	// ErrCodeInvalidOrExpired is the single rejection for a one-time code
	// that is wrong, missing, consumed, or past its window.
	ErrCodeInvalidOrExpired = errors.New("code invalid or expired")
	// ErrCodeLocked signals the challenge exhausted its attempt budget.
	ErrCodeLocked = errors.New("code locked")
	// ErrDuplicateIdentity signals the handle or contact is already taken.
	ErrDuplicateIdentity = errors.New("identity already exists")
	// ErrAccountInactive signals the identity exists but cannot sign in.
	ErrAccountInactive = errors.New("account inactive")
	// ErrRateLimited signals a best-effort limiter rejected the request.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotificationFailed signals a challenge was created but its code
	// could not be dispatched. The challenge stays valid; the caller may
	// offer a retry of delivery, not of issuance.
	ErrNotificationFailed = errors.New("notification dispatch failed")
)

// LockedOutError reports a lockout window rejection along with how long the
// caller has to wait.
type LockedOutError struct {
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("locked out, retry after %s", e.RetryAfter)
}

// CooldownError reports that a fresh code cannot be issued yet.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("code recently issued, retry after %s", e.RetryAfter)
}

// CodeMismatchError reports a wrong code while attempts remain. It matches
// ErrCodeInvalidOrExpired under errors.Is so callers that do not care about
// the remaining budget can treat both uniformly.
type CodeMismatchError struct {
	Remaining int
}

func (e *CodeMismatchError) Error() string {
	return fmt.Sprintf("invalid code, %d attempts remaining", e.Remaining)
}

func (e *CodeMismatchError) Is(target error) bool {
	return target == ErrCodeInvalidOrExpired
}

// RateLimitedError reports a sliding-window rejection along with how long
// until the oldest attempt slides out and frees a slot. It matches
// ErrRateLimited under errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// PolicyViolationError reports a candidate secret rejected by policy, with a
// caller-safe reason.
type PolicyViolationError struct {
	Reason string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("secret rejected: %s", e.Reason)
}
