package domain

import "time"

// AuditEntry is the structured audit record handed to the audit sink.
// Detail keys are restricted to an allow-list before publishing.
type AuditEntry struct {
	EventID    string
	SubjectID  int64
	Action     string
	OccurredAt time.Time
	Detail     map[string]string
}

// AuditDetailAllowList enumerates the only keys the audit sink accepts.
// Anything else is dropped at the boundary so raw tokens or codes can
// never leak into durable audit storage.
var AuditDetailAllowList = map[string]struct{}{
	"identifier":     {},
	"purpose":        {},
	"reason":         {},
	"delivery":       {},
	"contact_masked": {},
	"grants_revoked": {},
	"remaining":      {},
	"request_source": {},
	"challenge_id":   {},
	"rotation_grant": {},
}

// CodeDelivery describes an out-of-band code dispatch request handed to the
// notification sink. Code is the plaintext one-time code; it must never be
// written to logs or audit detail.
type CodeDelivery struct {
	EventID     string
	SubjectID   int64
	Destination string
	Code        string
	Purpose     ChallengePurpose
	RequestedAt time.Time
	ExpiresAt   time.Time
}
