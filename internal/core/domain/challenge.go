package domain

import "time"

// ChallengePurpose is the closed set of flows a one-time code can serve.
type ChallengePurpose string

const (
	PurposeLoginStepUp        ChallengePurpose = "login_step_up"
	PurposeCredentialReset    ChallengePurpose = "credential_reset"
	PurposeSecondFactorEnroll ChallengePurpose = "second_factor_enroll"
)

// Valid reports whether the purpose is a member of the closed enumeration.
func (p ChallengePurpose) Valid() bool {
	switch p {
	case PurposeLoginStepUp, PurposeCredentialReset, PurposeSecondFactorEnroll:
		return true
	}
	return false
}

// Challenge is a single issued one-time code instance scoped to a subject
// and purpose. Only the code hash is stored; terminal states are used,
// locked, or natural expiry.
type Challenge struct {
	ID        int64
	SubjectID int64
	Purpose   ChallengePurpose
	CodeHash  string
	Attempts  int
	Locked    bool
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// IsExpired reports whether the challenge has elapsed its validity window.
func (c Challenge) IsExpired(at time.Time) bool {
	return !c.ExpiresAt.After(at)
}

// IsUsed reports whether the challenge was already redeemed.
func (c Challenge) IsUsed() bool {
	return c.UsedAt != nil
}

// IsUsable reports whether the challenge can still accept verification
// attempts: unused, unexpired, and not locked.
func (c Challenge) IsUsable(at time.Time) bool {
	return !c.IsUsed() && !c.Locked && !c.IsExpired(at)
}

// CooldownRemaining returns how long a fresh issue for the same scope is
// blocked by this challenge. Anchored to creation time regardless of state:
// even a used or locked challenge blocks re-issue until the window elapses.
func (c Challenge) CooldownRemaining(cooldown time.Duration, at time.Time) time.Duration {
	deadline := c.CreatedAt.Add(cooldown)
	if !deadline.After(at) {
		return 0
	}
	return deadline.Sub(at)
}
