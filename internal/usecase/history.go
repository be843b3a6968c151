package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
	"github.com/inkwell-labs/identity-core/internal/core/port"
)

// CredentialHasher is the hashing behavior the services depend on. The
// concrete implementation lives in infra/security.
type CredentialHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encoded string) (bool, error)
	DummyHash() string
}

// HistoryGuard blocks credential reuse against the retained hash window.
type HistoryGuard struct {
	history port.HistoryRepository
	hasher  CredentialHasher
	limit   int
	now     func() time.Time
}

// NewHistoryGuard constructs a guard retaining the last limit hashes.
func NewHistoryGuard(history port.HistoryRepository, hasher CredentialHasher, limit int) *HistoryGuard {
	if limit <= 0 {
		limit = 5
	}
	return &HistoryGuard{
		history: history,
		hasher:  hasher,
		limit:   limit,
		now:     time.Now,
	}
}

// WithClock overrides the time source for tests.
func (g *HistoryGuard) WithClock(clock func() time.Time) *HistoryGuard {
	if clock != nil {
		g.now = clock
	}
	return g
}

// IsReused reports whether candidate matches the current credential or any
// retained historical hash. Verification failures on malformed stored
// hashes are treated as non-matches rather than hard errors.
func (g *HistoryGuard) IsReused(ctx context.Context, identityID int64, currentHash, candidate string) (bool, error) {
	if currentHash != "" {
		match, err := g.hasher.Verify(candidate, currentHash)
		if err == nil && match {
			return true, nil
		}
	}

	entries, err := g.history.ListRecent(ctx, identityID, g.limit)
	if err != nil {
		return false, fmt.Errorf("list credential history: %w", err)
	}

	for _, entry := range entries {
		match, err := g.hasher.Verify(candidate, entry.CredentialHash)
		if err == nil && match {
			return true, nil
		}
	}

	return false, nil
}

// Remember appends the hash to the identity's history, trimming to the
// retained window.
func (g *HistoryGuard) Remember(ctx context.Context, identityID int64, hash string) error {
	entry := domain.CredentialHistoryEntry{
		IdentityID:     identityID,
		CredentialHash: hash,
		RecordedAt:     g.now().UTC(),
	}

	if err := g.history.Append(ctx, entry, g.limit); err != nil {
		return fmt.Errorf("append credential history: %w", err)
	}

	return nil
}
