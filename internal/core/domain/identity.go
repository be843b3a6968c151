package domain

import (
	"strings"
	"time"
)

// IdentityStatus enumerates possible account states.
type IdentityStatus string

const (
	IdentityStatusActive   IdentityStatus = "active"
	IdentityStatusDormant  IdentityStatus = "dormant"
	IdentityStatusDisabled IdentityStatus = "disabled"
)

// Identity mirrors the persisted representation in the identities table.
// Handle is stored normalized (trimmed, lower-cased); Contact is the
// out-of-band address used for code delivery and reset lookups.
type Identity struct {
	ID                  int64
	Handle              string
	Contact             string
	CredentialHash      string
	CredentialAlgo      string
	SecondFactorEnabled bool
	Status              IdentityStatus
	IsActive            bool
	CreatedAt           time.Time
	LastActivityAt      time.Time
}

// NormalizeHandle canonicalizes a submitted identifier for storage and lookup.
func NormalizeHandle(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// CredentialHistoryEntry tracks historical credential hashes for reuse prevention.
type CredentialHistoryEntry struct {
	ID             int64
	IdentityID     int64
	CredentialHash string
	RecordedAt     time.Time
}

// AttemptRecord captures a single authentication attempt. Identifier is the
// normalized string the caller presented, kept even when it resolves to no
// identity so unknown identifiers accumulate lockout state too.
type AttemptRecord struct {
	ID         int64
	Identifier string
	Succeeded  bool
	Reason     string
	CreatedAt  time.Time
}
