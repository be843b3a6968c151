package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
	"github.com/inkwell-labs/identity-core/internal/core/port"
	"github.com/inkwell-labs/identity-core/internal/infra/logger"
	"github.com/inkwell-labs/identity-core/internal/infra/ratelimit"
	"github.com/inkwell-labs/identity-core/internal/infra/security"
	"github.com/inkwell-labs/identity-core/internal/infra/telemetry"
	"github.com/inkwell-labs/identity-core/internal/repository"
)

// ResetLimitPolicy tunes the sliding-window limiter in front of reset
// initiation.
type ResetLimitPolicy struct {
	Window      time.Duration
	MaxAttempts int
}

// AuthResult is the outcome of first-factor authentication. When
// StepUpRequired is set the caller holds only a pre-auth token and must
// complete the one-time code challenge before receiving a session.
type AuthResult struct {
	SubjectID      int64
	StepUpRequired bool
	PreAuthToken   string
	PreAuthExpires time.Time
	Session        *SessionPair
}

// IdentityGate orchestrates registration, authentication, step-up, session
// lifecycle, and credential changes over the underlying services.
type IdentityGate struct {
	identities   port.IdentityRepository
	ledger       *AttemptLedger
	history      *HistoryGuard
	challenges   *ChallengeService
	sessions     *SessionIssuer
	hasher       CredentialHasher
	audit        port.AuditSink
	resetLimiter port.RateLimitStore
	resetPolicy  ResetLimitPolicy
	checkLimiter *ratelimit.SweepLimiter
	policyFor    func(userInputs ...string) *security.SecretPolicy
	metrics      *telemetry.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

// GateDeps bundles the collaborators an IdentityGate needs.
type GateDeps struct {
	Identities   port.IdentityRepository
	Ledger       *AttemptLedger
	History      *HistoryGuard
	Challenges   *ChallengeService
	Sessions     *SessionIssuer
	Hasher       CredentialHasher
	Audit        port.AuditSink
	ResetLimiter port.RateLimitStore
	ResetPolicy  ResetLimitPolicy
	CheckLimiter *ratelimit.SweepLimiter
	Metrics      *telemetry.Metrics
	Logger       *zap.Logger
}

// NewIdentityGate wires the gate from its dependencies.
func NewIdentityGate(deps GateDeps) *IdentityGate {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	policy := deps.ResetPolicy
	if policy.Window <= 0 {
		policy.Window = time.Hour
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	return &IdentityGate{
		identities:   deps.Identities,
		ledger:       deps.Ledger,
		history:      deps.History,
		challenges:   deps.Challenges,
		sessions:     deps.Sessions,
		hasher:       deps.Hasher,
		audit:        deps.Audit,
		resetLimiter: deps.ResetLimiter,
		resetPolicy:  policy,
		checkLimiter: deps.CheckLimiter,
		policyFor:    security.DefaultSecretPolicy,
		metrics:      deps.Metrics,
		logger:       log,
		now:          time.Now,
	}
}

// WithClock overrides the time source for tests.
func (g *IdentityGate) WithClock(clock func() time.Time) *IdentityGate {
	if clock != nil {
		g.now = clock
	}
	return g
}

// WithSecretPolicy overrides the secret policy factory.
func (g *IdentityGate) WithSecretPolicy(factory func(userInputs ...string) *security.SecretPolicy) *IdentityGate {
	if factory != nil {
		g.policyFor = factory
	}
	return g
}

// Register creates a new identity with a policy-checked secret. The handle
// is normalized before storage so lookups are case-insensitive.
func (g *IdentityGate) Register(ctx context.Context, handle, contact, secret string) (int64, error) {
	handle = domain.NormalizeHandle(handle)
	if handle == "" {
		return 0, &PolicyViolationError{Reason: "handle must not be empty"}
	}

	if err := g.validateSecret(secret, handle, contact); err != nil {
		return 0, err
	}

	hash, err := g.hasher.Hash(secret)
	if err != nil {
		return 0, fmt.Errorf("hash credential: %w", err)
	}

	now := g.now().UTC()
	identity := domain.Identity{
		Handle:         handle,
		Contact:        contact,
		CredentialHash: hash,
		CredentialAlgo: security.AlgoArgon2ID,
		Status:         domain.IdentityStatusActive,
		IsActive:       true,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	id, err := g.identities.Create(ctx, identity)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrDuplicateIdentity
		}
		return 0, fmt.Errorf("create identity: %w", err)
	}

	g.recordAudit(ctx, id, "identity.registered", map[string]string{
		"identifier": logger.MaskIdentifier(handle),
	})

	return id, nil
}

// Authenticate verifies the first factor. For identities with a second
// factor enrolled it issues a step-up challenge and a pre-auth token
// instead of a session. An unknown identifier still burns a hash
// verification against a decoy so response timing does not reveal
// existence.
func (g *IdentityGate) Authenticate(ctx context.Context, identifier, secret string) (*AuthResult, error) {
	identifier = domain.NormalizeHandle(identifier)

	if remaining := g.ledger.RemainingLockout(ctx, identifier); remaining > 0 {
		if g.metrics != nil {
			g.metrics.Lockouts.Inc()
		}
		return nil, &LockedOutError{RetryAfter: remaining}
	}

	identity, err := g.resolveIdentity(ctx, identifier)
	if err != nil {
		if isNotFound(err) {
			_, _ = g.hasher.Verify(secret, g.hasher.DummyHash())
			g.ledger.Record(ctx, identifier, false, "unknown_identifier")
			g.countAuth("failure")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load identity: %w", err)
	}

	match, err := g.hasher.Verify(secret, identity.CredentialHash)
	if err != nil || !match {
		if err != nil {
			g.logger.Error("stored credential hash unreadable",
				zap.Error(err),
				zap.Int64("subject_id", identity.ID),
			)
		}
		g.ledger.Record(ctx, identifier, false, "credential_mismatch")
		g.countAuth("failure")
		return nil, ErrInvalidCredentials
	}

	if !identity.IsActive {
		g.ledger.Record(ctx, identifier, false, "account_inactive")
		g.countAuth("inactive")
		return nil, ErrAccountInactive
	}

	if identity.SecondFactorEnabled {
		if _, err := g.challenges.Issue(ctx, identity.ID, domain.PurposeLoginStepUp, identity.Contact); err != nil {
			var cooldown *CooldownError
			if !errors.As(err, &cooldown) {
				return nil, err
			}
			// A live challenge already exists; the caller can submit its
			// code against the fresh pre-auth token.
		}

		token, expires, err := g.sessions.IssuePreAuthToken(identity.ID)
		if err != nil {
			return nil, err
		}

		g.countAuth("step_up")
		return &AuthResult{
			SubjectID:      identity.ID,
			StepUpRequired: true,
			PreAuthToken:   token,
			PreAuthExpires: expires,
		}, nil
	}

	return g.finishAuthentication(ctx, identity, identifier)
}

// CompleteStepUp exchanges a pre-auth token plus a valid one-time code for
// a full session.
func (g *IdentityGate) CompleteStepUp(ctx context.Context, preAuthToken, code string) (*AuthResult, error) {
	claims, err := g.sessions.ParseToken(preAuthToken)
	if err != nil {
		return nil, err
	}
	if claims.Scope != ScopePreAuth {
		return nil, ErrTokenInvalidOrExpired
	}

	subjectID, err := claims.SubjectID()
	if err != nil {
		return nil, ErrTokenInvalidOrExpired
	}

	identity, err := g.identities.GetByID(ctx, subjectID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTokenInvalidOrExpired
		}
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if !identity.IsActive {
		return nil, ErrAccountInactive
	}

	if err := g.challenges.Verify(ctx, subjectID, domain.PurposeLoginStepUp, code); err != nil {
		g.ledger.Record(ctx, identity.Handle, false, "step_up_failed")
		return nil, err
	}

	return g.finishAuthentication(ctx, identity, identity.Handle)
}

// resolveIdentity matches the identifier by handle first, then by contact
// address, so signing in with either works.
func (g *IdentityGate) resolveIdentity(ctx context.Context, identifier string) (*domain.Identity, error) {
	identity, err := g.identities.GetByHandle(ctx, identifier)
	if err == nil {
		return identity, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	return g.identities.GetByContact(ctx, identifier)
}

func (g *IdentityGate) finishAuthentication(ctx context.Context, identity *domain.Identity, identifier string) (*AuthResult, error) {
	session, err := g.sessions.IssueSession(ctx, identity.ID, nil)
	if err != nil {
		return nil, err
	}

	g.ledger.Record(ctx, identifier, true, "")
	if err := g.identities.UpdateLastActivity(ctx, identity.ID, g.now().UTC()); err != nil {
		g.logger.Error("update last activity", zap.Error(err), zap.Int64("subject_id", identity.ID))
	}

	g.countAuth("success")
	g.recordAudit(ctx, identity.ID, "identity.authenticated", map[string]string{
		"identifier": logger.MaskIdentifier(identifier),
	})

	return &AuthResult{SubjectID: identity.ID, Session: session}, nil
}

// Refresh rotates a refresh token into a fresh session pair.
func (g *IdentityGate) Refresh(ctx context.Context, refreshToken string) (*SessionPair, error) {
	pair, subjectID, err := g.sessions.Rotate(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	if err := g.identities.UpdateLastActivity(ctx, subjectID, g.now().UTC()); err != nil {
		g.logger.Error("update last activity", zap.Error(err), zap.Int64("subject_id", subjectID))
	}

	return pair, nil
}

// Revoke ends the session behind the refresh token.
func (g *IdentityGate) Revoke(ctx context.Context, refreshToken string) error {
	return g.sessions.Revoke(ctx, refreshToken)
}

// InitiateReset starts a credential reset for the account behind contact.
// The outcome is identical whether or not the contact maps to an identity,
// so the endpoint cannot be used to enumerate accounts.
func (g *IdentityGate) InitiateReset(ctx context.Context, contact string) error {
	if err := g.enforceResetLimit(ctx, contact); err != nil {
		return err
	}

	identity, err := g.identities.GetByContact(ctx, contact)
	if err != nil {
		if isNotFound(err) {
			g.logger.Info("reset requested for unknown contact",
				zap.String("contact", logger.MaskIdentifier(contact)),
			)
			return nil
		}
		return fmt.Errorf("load identity: %w", err)
	}

	if _, err := g.challenges.Issue(ctx, identity.ID, domain.PurposeCredentialReset, identity.Contact); err != nil {
		var cooldown *CooldownError
		switch {
		case errors.As(err, &cooldown):
			// Reporting the cooldown would reveal the account exists.
			g.logger.Info("reset re-requested within cooldown",
				zap.Int64("subject_id", identity.ID),
			)
			return nil
		case errors.Is(err, ErrNotificationFailed):
			// Same reasoning: a delivery error only occurs for contacts
			// that resolve, so it stays behind the generic success.
			g.logger.Error("reset code delivery failed",
				zap.Int64("subject_id", identity.ID),
			)
		default:
			return err
		}
	}

	if g.metrics != nil {
		g.metrics.ResetsStarted.Inc()
	}
	g.recordAudit(ctx, identity.ID, "identity.reset_initiated", map[string]string{
		"contact_masked": logger.MaskIdentifier(contact),
	})

	return nil
}

func (g *IdentityGate) enforceResetLimit(ctx context.Context, contact string) error {
	if g.resetLimiter == nil {
		return nil
	}

	now := g.now().UTC()
	if err := g.resetLimiter.TrimWindow(ctx, contact, g.resetPolicy.Window, now); err != nil {
		return fmt.Errorf("trim reset window: %w", err)
	}

	count, err := g.resetLimiter.CountAttempts(ctx, contact, g.resetPolicy.Window, now)
	if err != nil {
		return fmt.Errorf("count reset attempts: %w", err)
	}
	if count >= g.resetPolicy.MaxAttempts {
		return g.rateLimited(ctx, contact, now)
	}

	if err := g.resetLimiter.RecordAttempt(ctx, contact, now); err != nil {
		return fmt.Errorf("record reset attempt: %w", err)
	}

	return nil
}

// rateLimited derives the retry hint from the oldest attempt still inside
// the window. When the store cannot answer, the bare sentinel goes out
// instead of failing the rejection.
func (g *IdentityGate) rateLimited(ctx context.Context, contact string, now time.Time) error {
	oldest, ok, err := g.resetLimiter.OldestAttempt(ctx, contact, g.resetPolicy.Window, now)
	if err != nil {
		g.logger.Warn("reset limiter oldest attempt lookup failed", zap.Error(err))
		return ErrRateLimited
	}
	if !ok {
		return ErrRateLimited
	}
	return &RateLimitedError{RetryAfter: oldest.Add(g.resetPolicy.Window).Sub(now)}
}

// CompleteReset finishes a reset: valid code plus a policy-clean, unused
// secret installs the new credential and revokes every live grant.
func (g *IdentityGate) CompleteReset(ctx context.Context, contact, code, newSecret string) error {
	identity, err := g.identities.GetByContact(ctx, contact)
	if err != nil {
		if isNotFound(err) {
			return ErrCodeInvalidOrExpired
		}
		return fmt.Errorf("load identity: %w", err)
	}

	if err := g.challenges.Verify(ctx, identity.ID, domain.PurposeCredentialReset, code); err != nil {
		return err
	}

	if err := g.installCredential(ctx, identity, newSecret); err != nil {
		return err
	}

	if g.metrics != nil {
		g.metrics.ResetsDone.Inc()
	}
	g.recordAudit(ctx, identity.ID, "identity.reset_completed", map[string]string{
		"contact_masked": logger.MaskIdentifier(contact),
	})

	return nil
}

// ChangeSecret rotates the credential for an authenticated subject. The
// current secret must verify, and the replacement must clear policy and the
// reuse window. All grants are revoked afterwards.
func (g *IdentityGate) ChangeSecret(ctx context.Context, subjectID int64, currentSecret, newSecret string) error {
	identity, err := g.identities.GetByID(ctx, subjectID)
	if err != nil {
		if isNotFound(err) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("load identity: %w", err)
	}

	match, err := g.hasher.Verify(currentSecret, identity.CredentialHash)
	if err != nil || !match {
		if err != nil {
			g.logger.Error("stored credential hash unreadable",
				zap.Error(err),
				zap.Int64("subject_id", identity.ID),
			)
		}
		return ErrInvalidCredentials
	}

	if err := g.installCredential(ctx, identity, newSecret); err != nil {
		return err
	}

	g.recordAudit(ctx, identity.ID, "identity.secret_changed", nil)
	return nil
}

// installCredential validates and hashes the new secret, pushes the
// outgoing hash into the reuse history, stores the replacement, then
// revokes all grants for the subject. Recording the old hash keeps the
// full reuse window of prior secrets blocked alongside the current one.
func (g *IdentityGate) installCredential(ctx context.Context, identity *domain.Identity, newSecret string) error {
	if err := g.validateSecret(newSecret, identity.Handle, identity.Contact); err != nil {
		return err
	}

	reused, err := g.history.IsReused(ctx, identity.ID, identity.CredentialHash, newSecret)
	if err != nil {
		return err
	}
	if reused {
		return &PolicyViolationError{Reason: "secret was used recently"}
	}

	hash, err := g.hasher.Hash(newSecret)
	if err != nil {
		return fmt.Errorf("hash credential: %w", err)
	}

	if err := g.history.Remember(ctx, identity.ID, identity.CredentialHash); err != nil {
		g.logger.Error("record credential history", zap.Error(err), zap.Int64("subject_id", identity.ID))
	}

	now := g.now().UTC()
	if err := g.identities.UpdateCredential(ctx, identity.ID, hash, security.AlgoArgon2ID, now); err != nil {
		return fmt.Errorf("update credential: %w", err)
	}

	revoked, err := g.sessions.RevokeAllForSubject(ctx, identity.ID)
	if err != nil {
		g.logger.Error("revoke grants after credential change", zap.Error(err), zap.Int64("subject_id", identity.ID))
	} else if revoked > 0 {
		g.logger.Info("grants revoked after credential change",
			zap.Int64("subject_id", identity.ID),
			zap.Int("grants_revoked", revoked),
		)
	}

	return nil
}

// InitiateSecondFactorEnrollment sends an enrollment code to the subject's
// contact address.
func (g *IdentityGate) InitiateSecondFactorEnrollment(ctx context.Context, subjectID int64) error {
	identity, err := g.identities.GetByID(ctx, subjectID)
	if err != nil {
		if isNotFound(err) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("load identity: %w", err)
	}

	if _, err := g.challenges.Issue(ctx, identity.ID, domain.PurposeSecondFactorEnroll, identity.Contact); err != nil {
		return err
	}

	return nil
}

// CompleteSecondFactorEnrollment verifies the enrollment code and turns the
// second factor on.
func (g *IdentityGate) CompleteSecondFactorEnrollment(ctx context.Context, subjectID int64, code string) error {
	if err := g.challenges.Verify(ctx, subjectID, domain.PurposeSecondFactorEnroll, code); err != nil {
		return err
	}

	if err := g.identities.SetSecondFactorEnabled(ctx, subjectID, true); err != nil {
		return fmt.Errorf("enable second factor: %w", err)
	}

	g.recordAudit(ctx, subjectID, "identity.second_factor_enabled", nil)
	return nil
}

// CheckHandleAvailable reports whether a handle is free. requestSource keys
// the best-effort limiter, typically the caller's network address.
func (g *IdentityGate) CheckHandleAvailable(ctx context.Context, handle, requestSource string) (bool, error) {
	if g.checkLimiter != nil && !g.checkLimiter.Allow(requestSource) {
		return false, ErrRateLimited
	}

	handle = domain.NormalizeHandle(handle)
	if handle == "" {
		return false, nil
	}

	_, err := g.identities.GetByHandle(ctx, handle)
	if err != nil {
		if isNotFound(err) {
			return true, nil
		}
		return false, fmt.Errorf("load identity: %w", err)
	}

	return false, nil
}

func (g *IdentityGate) validateSecret(secret string, userInputs ...string) error {
	if err := g.policyFor(userInputs...).Validate(secret); err != nil {
		var policyErr *security.SecretPolicyError
		if errors.As(err, &policyErr) {
			return &PolicyViolationError{Reason: policyErr.Message}
		}
		return &PolicyViolationError{Reason: "secret rejected by policy"}
	}
	return nil
}

func (g *IdentityGate) recordAudit(ctx context.Context, subjectID int64, action string, detail map[string]string) {
	if g.audit == nil {
		return
	}

	entry := domain.AuditEntry{
		EventID:    uuid.NewString(),
		SubjectID:  subjectID,
		Action:     action,
		OccurredAt: g.now().UTC(),
		Detail:     detail,
	}

	if err := g.audit.Record(ctx, entry); err != nil {
		g.logger.Error("record audit entry", zap.Error(err), zap.String("action", action))
	}
}

func (g *IdentityGate) countAuth(result string) {
	if g.metrics != nil {
		g.metrics.AuthAttempts.WithLabelValues(result).Inc()
	}
}

func isDuplicate(err error) bool {
	return errors.Is(err, repository.ErrDuplicate)
}
