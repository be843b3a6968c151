package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
	"github.com/inkwell-labs/identity-core/internal/infra/security"
	"github.com/inkwell-labs/identity-core/internal/repository"
)

func testHasher(t *testing.T) *security.Hasher {
	t.Helper()
	hasher, err := security.NewHasher(security.Argon2Params{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  8,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return hasher
}

type memIdentityRepo struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]*domain.Identity
	createE error
}

func newMemIdentityRepo() *memIdentityRepo {
	return &memIdentityRepo{nextID: 1, byID: make(map[int64]*domain.Identity)}
}

func (r *memIdentityRepo) Create(_ context.Context, identity domain.Identity) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createE != nil {
		return 0, r.createE
	}
	for _, existing := range r.byID {
		if existing.Handle == identity.Handle || existing.Contact == identity.Contact {
			return 0, repository.ErrDuplicate
		}
	}
	identity.ID = r.nextID
	r.nextID++
	copy := identity
	r.byID[identity.ID] = &copy
	return identity.ID, nil
}

func (r *memIdentityRepo) GetByID(_ context.Context, id int64) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *identity
	return &copy, nil
}

func (r *memIdentityRepo) GetByHandle(_ context.Context, handle string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, identity := range r.byID {
		if identity.Handle == handle {
			copy := *identity
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memIdentityRepo) GetByContact(_ context.Context, contact string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, identity := range r.byID {
		if identity.Contact == contact {
			copy := *identity
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memIdentityRepo) UpdateCredential(_ context.Context, id int64, hash, algo string, changedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	identity.CredentialHash = hash
	identity.CredentialAlgo = algo
	identity.LastActivityAt = changedAt
	return nil
}

func (r *memIdentityRepo) UpdateLastActivity(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	identity.LastActivityAt = at
	return nil
}

func (r *memIdentityRepo) SetSecondFactorEnabled(_ context.Context, id int64, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	identity.SecondFactorEnabled = enabled
	return nil
}

func (r *memIdentityRepo) UpdateStatus(_ context.Context, id int64, status domain.IdentityStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	identity.Status = status
	identity.IsActive = status == domain.IdentityStatusActive
	return nil
}

func (r *memIdentityRepo) DeactivateDormant(_ context.Context, inactiveSince time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, identity := range r.byID {
		if identity.Status == domain.IdentityStatusActive && identity.LastActivityAt.Before(inactiveSince) {
			identity.Status = domain.IdentityStatusDormant
			identity.IsActive = false
			count++
		}
	}
	return count, nil
}

type memHistoryRepo struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64][]domain.CredentialHistoryEntry
}

func newMemHistoryRepo() *memHistoryRepo {
	return &memHistoryRepo{nextID: 1, entries: make(map[int64][]domain.CredentialHistoryEntry)}
}

func (r *memHistoryRepo) Append(_ context.Context, entry domain.CredentialHistoryEntry, keep int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = r.nextID
	r.nextID++
	list := append(r.entries[entry.IdentityID], entry)
	sort.Slice(list, func(i, j int) bool {
		if list[i].RecordedAt.Equal(list[j].RecordedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].RecordedAt.After(list[j].RecordedAt)
	})
	if keep > 0 && len(list) > keep {
		list = list[:keep]
	}
	r.entries[entry.IdentityID] = list
	return nil
}

func (r *memHistoryRepo) ListRecent(_ context.Context, identityID int64, limit int) ([]domain.CredentialHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.entries[identityID]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]domain.CredentialHistoryEntry, len(list))
	copy(out, list)
	return out, nil
}

type memAttemptRepo struct {
	mu      sync.Mutex
	records []domain.AttemptRecord
	insertE error
	readE   error
}

func newMemAttemptRepo() *memAttemptRepo {
	return &memAttemptRepo{}
}

func (r *memAttemptRepo) Insert(_ context.Context, record domain.AttemptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertE != nil {
		return r.insertE
	}
	record.ID = int64(len(r.records) + 1)
	r.records = append(r.records, record)
	return nil
}

func (r *memAttemptRepo) RecentFailures(_ context.Context, identifier string, since time.Time, limit int) ([]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readE != nil {
		return nil, r.readE
	}
	var timestamps []time.Time
	for _, record := range r.records {
		if record.Identifier == identifier && !record.Succeeded && !record.CreatedAt.Before(since) {
			timestamps = append(timestamps, record.CreatedAt)
		}
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].After(timestamps[j]) })
	if limit > 0 && len(timestamps) > limit {
		timestamps = timestamps[:limit]
	}
	return timestamps, nil
}

type memChallengeRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Challenge
}

func newMemChallengeRepo() *memChallengeRepo {
	return &memChallengeRepo{nextID: 1, rows: make(map[int64]*domain.Challenge)}
}

func (r *memChallengeRepo) Create(_ context.Context, challenge domain.Challenge) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	challenge.ID = r.nextID
	r.nextID++
	copy := challenge
	r.rows[challenge.ID] = &copy
	return challenge.ID, nil
}

func (r *memChallengeRepo) newest(subjectID int64, purpose domain.ChallengePurpose, filter func(*domain.Challenge) bool) *domain.Challenge {
	var newest *domain.Challenge
	for _, row := range r.rows {
		if row.SubjectID != subjectID || row.Purpose != purpose {
			continue
		}
		if filter != nil && !filter(row) {
			continue
		}
		if newest == nil || row.CreatedAt.After(newest.CreatedAt) || (row.CreatedAt.Equal(newest.CreatedAt) && row.ID > newest.ID) {
			newest = row
		}
	}
	return newest
}

func (r *memChallengeRepo) GetMostRecent(_ context.Context, subjectID int64, purpose domain.ChallengePurpose) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.newest(subjectID, purpose, nil)
	if row == nil {
		return nil, repository.ErrNotFound
	}
	copy := *row
	return &copy, nil
}

func (r *memChallengeRepo) GetMostRecentUsable(_ context.Context, subjectID int64, purpose domain.ChallengePurpose, at time.Time) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.newest(subjectID, purpose, func(c *domain.Challenge) bool {
		return c.UsedAt == nil && c.ExpiresAt.After(at)
	})
	if row == nil {
		return nil, repository.ErrNotFound
	}
	copy := *row
	return &copy, nil
}

func (r *memChallengeRepo) IncrementAttempts(_ context.Context, id int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	row.Attempts++
	return row.Attempts, nil
}

func (r *memChallengeRepo) Lock(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	row.Locked = true
	return nil
}

func (r *memChallengeRepo) MarkUsed(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.UsedAt != nil {
		return repository.ErrNotFound
	}
	ts := at
	row.UsedAt = &ts
	return nil
}

func (r *memChallengeRepo) PurgeExpired(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, row := range r.rows {
		if row.ExpiresAt.Before(before) {
			delete(r.rows, id)
			count++
		}
	}
	return count, nil
}

type memGrantRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.RefreshGrant
}

func newMemGrantRepo() *memGrantRepo {
	return &memGrantRepo{rows: make(map[string]*domain.RefreshGrant)}
}

func (r *memGrantRepo) Create(_ context.Context, grant domain.RefreshGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy := grant
	r.rows[grant.ID] = &copy
	return nil
}

func (r *memGrantRepo) GetByHash(_ context.Context, tokenHash string) (*domain.RefreshGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.TokenHash == tokenHash {
			copy := *row
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memGrantRepo) Revoke(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.RevokedAt != nil {
		return repository.ErrNotFound
	}
	ts := at
	row.RevokedAt = &ts
	return nil
}

func (r *memGrantRepo) RevokeAllForSubject(_ context.Context, subjectID int64, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, row := range r.rows {
		if row.SubjectID == subjectID && row.RevokedAt == nil {
			ts := at
			row.RevokedAt = &ts
			count++
		}
	}
	return count, nil
}

func (r *memGrantRepo) PurgeStale(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, row := range r.rows {
		if row.ExpiresAt.Before(before) || (row.RevokedAt != nil && row.RevokedAt.Before(before)) {
			delete(r.rows, id)
			count++
		}
	}
	return count, nil
}

func (r *memGrantRepo) liveCount(subjectID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, row := range r.rows {
		if row.SubjectID == subjectID && row.RevokedAt == nil {
			count++
		}
	}
	return count
}

type captureNotifier struct {
	mu         sync.Mutex
	deliveries []domain.CodeDelivery
	err        error
}

func (n *captureNotifier) Dispatch(_ context.Context, delivery domain.CodeDelivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.deliveries = append(n.deliveries, delivery)
	return nil
}

func (n *captureNotifier) lastCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.deliveries) == 0 {
		return ""
	}
	return n.deliveries[len(n.deliveries)-1].Code
}

type captureAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *captureAudit) Record(_ context.Context, entry domain.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

// staticKeyProvider serves one generated RSA key pair for token tests.
type staticKeyProvider struct {
	key *rsa.PrivateKey
	kid string
}

func newStaticKeyProvider(t *testing.T) *staticKeyProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return &staticKeyProvider{key: key, kid: "test-key"}
}

func (p *staticKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) {
	return p.key, nil
}

func (p *staticKeyProvider) GetSigningKID() string {
	return p.kid
}

func (p *staticKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	if kid != p.kid {
		return nil, security.ErrKeyNotFound
	}
	return &p.key.PublicKey, nil
}
