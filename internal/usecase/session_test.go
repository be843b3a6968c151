package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestSessionIssuer(t *testing.T, grants *memGrantRepo, clock func() time.Time) *SessionIssuer {
	t.Helper()
	return NewSessionIssuer(grants, newStaticKeyProvider(t), DefaultSessionPolicy(), nil, zap.NewNop()).
		WithClock(clock)
}

func TestSessionIssueAndParse(t *testing.T) {
	grants := newMemGrantRepo()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestSessionIssuer(t, grants, func() time.Time { return current })

	pair, err := issuer.IssueSession(context.Background(), 42, nil)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if got, want := pair.AccessExpiresAt, current.Add(60*time.Minute); !got.Equal(want) {
		t.Fatalf("access expiry %s, want %s", got, want)
	}
	if got, want := pair.RefreshExpiresAt, current.Add(168*time.Hour); !got.Equal(want) {
		t.Fatalf("refresh expiry %s, want %s", got, want)
	}

	claims, err := issuer.ParseToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Scope != ScopeFull {
		t.Fatalf("expected scope %q, got %q", ScopeFull, claims.Scope)
	}
	subjectID, err := claims.SubjectID()
	if err != nil {
		t.Fatalf("SubjectID: %v", err)
	}
	if subjectID != 42 {
		t.Fatalf("expected subject 42, got %d", subjectID)
	}
}

func TestSessionAccessTokenExpires(t *testing.T) {
	grants := newMemGrantRepo()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestSessionIssuer(t, grants, func() time.Time { return current })

	pair, err := issuer.IssueSession(context.Background(), 42, nil)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	current = current.Add(61 * time.Minute)
	if _, err := issuer.ParseToken(pair.AccessToken); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected ErrTokenInvalidOrExpired, got %v", err)
	}
}

func TestSessionPreAuthTokenScope(t *testing.T) {
	grants := newMemGrantRepo()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestSessionIssuer(t, grants, func() time.Time { return current })

	token, expires, err := issuer.IssuePreAuthToken(42)
	if err != nil {
		t.Fatalf("IssuePreAuthToken: %v", err)
	}
	if got, want := expires, current.Add(5*time.Minute); !got.Equal(want) {
		t.Fatalf("pre-auth expiry %s, want %s", got, want)
	}

	claims, err := issuer.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Scope != ScopePreAuth {
		t.Fatalf("expected scope %q, got %q", ScopePreAuth, claims.Scope)
	}

	// No refresh grant accompanies a pre-auth token.
	if grants.liveCount(42) != 0 {
		t.Fatal("pre-auth token must not create a refresh grant")
	}
}

func TestSessionRotateSingleUse(t *testing.T) {
	grants := newMemGrantRepo()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestSessionIssuer(t, grants, func() time.Time { return current })

	ctx := context.Background()
	pair, err := issuer.IssueSession(ctx, 42, nil)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	rotated, subjectID, err := issuer.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if subjectID != 42 {
		t.Fatalf("expected subject 42, got %d", subjectID)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation must mint a different refresh token")
	}

	// The replaced token is dead: presenting it again is a replay and is
	// rejected with the generic invalid error.
	if _, _, err := issuer.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected ErrTokenInvalidOrExpired on replay, got %v", err)
	}

	// The successor token is untouched by the replay and rotates normally.
	next, subjectID, err := issuer.Rotate(ctx, rotated.RefreshToken)
	if err != nil {
		t.Fatalf("successor rotation after replay: %v", err)
	}
	if subjectID != 42 {
		t.Fatalf("expected subject 42, got %d", subjectID)
	}
	if next.RefreshToken == rotated.RefreshToken {
		t.Fatal("successor rotation must mint a different refresh token")
	}
}

func TestSessionRotateExpiredGrant(t *testing.T) {
	grants := newMemGrantRepo()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestSessionIssuer(t, grants, func() time.Time { return current })

	ctx := context.Background()
	pair, err := issuer.IssueSession(ctx, 42, nil)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	current = current.Add(169 * time.Hour)
	if _, _, err := issuer.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected ErrTokenInvalidOrExpired for expired grant, got %v", err)
	}
}

func TestSessionRevokeIdempotent(t *testing.T) {
	grants := newMemGrantRepo()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestSessionIssuer(t, grants, func() time.Time { return current })

	ctx := context.Background()
	pair, err := issuer.IssueSession(ctx, 42, nil)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	if err := issuer.Revoke(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := issuer.Revoke(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("second Revoke should be idempotent, got %v", err)
	}

	if err := issuer.Revoke(ctx, "unknown-token"); err != nil {
		t.Fatalf("revoking an unknown token must be a no-op, got %v", err)
	}

	// A revoked grant cannot rotate.
	if _, _, err := issuer.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected ErrTokenInvalidOrExpired after revoke, got %v", err)
	}
}

func TestSessionParseGarbage(t *testing.T) {
	grants := newMemGrantRepo()
	issuer := newTestSessionIssuer(t, grants, time.Now)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		if _, err := issuer.ParseToken(token); !errors.Is(err, ErrTokenInvalidOrExpired) {
			t.Fatalf("ParseToken(%q): expected ErrTokenInvalidOrExpired, got %v", token, err)
		}
	}
}
