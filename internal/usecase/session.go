package usecase

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
	"github.com/inkwell-labs/identity-core/internal/core/port"
	"github.com/inkwell-labs/identity-core/internal/infra/security"
	"github.com/inkwell-labs/identity-core/internal/infra/telemetry"
)

// Token scopes. A pre-auth token proves the first factor only and is
// accepted nowhere except step-up completion.
const (
	ScopeFull    = "full"
	ScopePreAuth = "pre_auth"
)

const refreshTokenBytes = 32

// AccessClaims is the JWT claim set carried by access and pre-auth tokens.
type AccessClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// SubjectID extracts the numeric subject from parsed claims.
func (c *AccessClaims) SubjectID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse subject claim: %w", err)
	}
	return id, nil
}

// SessionPolicy tunes token lifetimes and JWT validation identity.
type SessionPolicy struct {
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	PreAuthTTL time.Duration
}

// DefaultSessionPolicy returns the production defaults.
func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{
		Issuer:     "identity-core",
		Audience:   "identity-clients",
		AccessTTL:  60 * time.Minute,
		RefreshTTL: 168 * time.Hour,
		PreAuthTTL: 5 * time.Minute,
	}
}

// SessionPair bundles the tokens handed out after full authentication.
type SessionPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// SessionIssuer mints RS256 access tokens and manages opaque refresh grants.
// Refresh tokens are strictly single use: presenting one a second time is
// logged as a replay and rejected with the generic invalid-token error.
type SessionIssuer struct {
	grants  port.GrantRepository
	keys    security.KeyProvider
	policy  SessionPolicy
	metrics *telemetry.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewSessionIssuer constructs a session issuer.
func NewSessionIssuer(
	grants port.GrantRepository,
	keys security.KeyProvider,
	policy SessionPolicy,
	metrics *telemetry.Metrics,
	log *zap.Logger,
) *SessionIssuer {
	if log == nil {
		log = zap.NewNop()
	}
	if policy.AccessTTL <= 0 {
		policy.AccessTTL = 60 * time.Minute
	}
	if policy.RefreshTTL <= 0 {
		policy.RefreshTTL = 168 * time.Hour
	}
	if policy.PreAuthTTL <= 0 {
		policy.PreAuthTTL = 5 * time.Minute
	}
	return &SessionIssuer{
		grants:  grants,
		keys:    keys,
		policy:  policy,
		metrics: metrics,
		logger:  log,
		now:     time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *SessionIssuer) WithClock(clock func() time.Time) *SessionIssuer {
	if clock != nil {
		s.now = clock
	}
	return s
}

// IssueSession mints an access token and a fresh refresh grant for the
// subject.
func (s *SessionIssuer) IssueSession(ctx context.Context, subjectID int64, metadata map[string]any) (*SessionPair, error) {
	now := s.now().UTC()

	accessToken, accessExpires, err := s.signToken(subjectID, ScopeFull, s.policy.AccessTTL, now)
	if err != nil {
		return nil, err
	}

	refreshToken, refreshExpires, err := s.issueGrant(ctx, subjectID, metadata, now)
	if err != nil {
		return nil, err
	}

	return &SessionPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpires,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpires,
	}, nil
}

// IssuePreAuthToken mints a short-lived token proving only the first
// factor. It carries the pre_auth scope and no refresh grant.
func (s *SessionIssuer) IssuePreAuthToken(subjectID int64) (string, time.Time, error) {
	now := s.now().UTC()
	return s.signToken(subjectID, ScopePreAuth, s.policy.PreAuthTTL, now)
}

func (s *SessionIssuer) signToken(subjectID int64, scope string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	key, err := s.keys.GetSigningKey()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("load signing key: %w", err)
	}

	expiresAt := now.Add(ttl)
	claims := AccessClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(subjectID, 10),
			Issuer:    s.policy.Issuer,
			Audience:  jwt.ClaimStrings{s.policy.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid := s.keys.GetSigningKID(); kid != "" {
		token.Header["kid"] = kid
	}

	signed, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// ParseToken validates signature, issuer, audience, and lifetime. Any
// failure collapses to ErrTokenInvalidOrExpired.
func (s *SessionIssuer) ParseToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		return s.keys.GetVerificationKey(kid)
	},
		jwt.WithIssuer(s.policy.Issuer),
		jwt.WithAudience(s.policy.Audience),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
	)
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalidOrExpired
	}

	return claims, nil
}

func (s *SessionIssuer) issueGrant(ctx context.Context, subjectID int64, metadata map[string]any, now time.Time) (string, time.Time, error) {
	raw, err := security.GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate refresh token: %w", err)
	}

	grant := domain.RefreshGrant{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		TokenHash: security.HashToken(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(s.policy.RefreshTTL),
		Metadata:  metadata,
	}

	if err := s.grants.Create(ctx, grant); err != nil {
		return "", time.Time{}, fmt.Errorf("store refresh grant: %w", err)
	}

	return raw, grant.ExpiresAt, nil
}

// Rotate exchanges a live refresh token for a fresh session pair. The
// presented grant is claimed first with a guarded update; losing that claim
// means the token was replayed. A replay is logged and rejected with the
// generic invalid-token error, leaving the successor grant untouched.
func (s *SessionIssuer) Rotate(ctx context.Context, rawToken string) (*SessionPair, int64, error) {
	now := s.now().UTC()

	grant, err := s.grants.GetByHash(ctx, security.HashToken(rawToken))
	if err != nil {
		if isNotFound(err) {
			return nil, 0, ErrTokenInvalidOrExpired
		}
		return nil, 0, fmt.Errorf("load refresh grant: %w", err)
	}

	if grant.IsRevoked() {
		s.noteReplay(grant)
		return nil, 0, ErrTokenInvalidOrExpired
	}
	if grant.IsExpired(now) {
		return nil, 0, ErrTokenInvalidOrExpired
	}

	if err := s.grants.Revoke(ctx, grant.ID, now); err != nil {
		if isNotFound(err) {
			// A concurrent rotation claimed the grant between our read and
			// the guarded update.
			s.noteReplay(grant)
			return nil, 0, ErrTokenInvalidOrExpired
		}
		return nil, 0, fmt.Errorf("claim refresh grant: %w", err)
	}

	pair, err := s.IssueSession(ctx, grant.SubjectID, grant.Metadata)
	if err != nil {
		return nil, 0, err
	}

	if s.metrics != nil {
		s.metrics.Rotations.Inc()
	}

	return pair, grant.SubjectID, nil
}

func (s *SessionIssuer) noteReplay(grant *domain.RefreshGrant) {
	s.logger.Warn("refresh token replay detected",
		zap.Int64("subject_id", grant.SubjectID),
		zap.String("grant_id", grant.ID),
	)
	if s.metrics != nil {
		s.metrics.ReplaysCaught.Inc()
	}
}

// Revoke ends the session behind the refresh token. Idempotent: revoking an
// already revoked or unknown grant is a no-op.
func (s *SessionIssuer) Revoke(ctx context.Context, rawToken string) error {
	now := s.now().UTC()

	grant, err := s.grants.GetByHash(ctx, security.HashToken(rawToken))
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("load refresh grant: %w", err)
	}

	if grant.IsRevoked() {
		return nil
	}

	if err := s.grants.Revoke(ctx, grant.ID, now); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("revoke refresh grant: %w", err)
	}

	return nil
}

// RevokeAllForSubject ends every live session the subject holds and returns
// how many grants transitioned.
func (s *SessionIssuer) RevokeAllForSubject(ctx context.Context, subjectID int64) (int, error) {
	revoked, err := s.grants.RevokeAllForSubject(ctx, subjectID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke subject grants: %w", err)
	}
	return revoked, nil
}
