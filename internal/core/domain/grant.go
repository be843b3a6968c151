package domain

import "time"

// RefreshGrant represents a persisted refresh token (stored as a hash).
// A grant transitions to revoked exactly once, through explicit logout or
// through rotation.
type RefreshGrant struct {
	ID        string
	SubjectID int64
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	Metadata  map[string]any
}

// IsExpired reports whether the grant has elapsed its validity window.
func (g RefreshGrant) IsExpired(at time.Time) bool {
	return !g.ExpiresAt.After(at)
}

// IsRevoked reports whether the grant has been consumed or revoked.
func (g RefreshGrant) IsRevoked() bool {
	return g.RevokedAt != nil
}

// IsLive returns true when the grant can still be presented for rotation.
func (g RefreshGrant) IsLive(at time.Time) bool {
	return !g.IsRevoked() && !g.IsExpired(at)
}

// Revoke marks the grant as revoked. Returns true if the grant transitioned
// to the revoked state.
func (g *RefreshGrant) Revoke(at time.Time) bool {
	if g.RevokedAt != nil {
		return false
	}
	ts := at
	g.RevokedAt = &ts
	return true
}
