package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/store"
	"github.com/r3xsaler/Mi-tienda-pos/internal/store/memory"
)

func TestSignUpStoresPasswordHash(t *testing.T) {
	repo := memory.New()
	auth := NewAuthManager("secret", time.Hour, repo)

	resp, err := auth.SignUp(context.Background(), domain.SignUpRequest{Email: " Ana@Tienda.com ", Password: "clave-segura"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if resp.OperatorID == "" || resp.AccessToken == "" {
		t.Fatalf("expected operator id and token, got %+v", resp)
	}

	user, err := repo.FindUserByEmail(context.Background(), "ana@tienda.com")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if user.Password == "clave-segura" || !isPasswordHash(user.Password) {
		t.Fatalf("expected bcrypt hash, got %q", user.Password)
	}
	if user.ID != resp.OperatorID {
		t.Fatalf("expected stored id %q, got %q", resp.OperatorID, user.ID)
	}
}

func TestSignUpValidatesInput(t *testing.T) {
	auth := NewAuthManager("secret", time.Hour, memory.New())

	if _, err := auth.SignUp(context.Background(), domain.SignUpRequest{Email: "no-es-correo", Password: "clave-segura"}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := auth.SignUp(context.Background(), domain.SignUpRequest{Email: "ana@tienda.com", Password: "123"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := auth.SignUp(context.Background(), domain.SignUpRequest{Email: "ana@tienda.com", Password: "clave-segura"}); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if _, err := auth.SignUp(context.Background(), domain.SignUpRequest{Email: "ana@tienda.com", Password: "clave-segura"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSignInRoundTrip(t *testing.T) {
	auth := NewAuthManager("secret", time.Hour, memory.New())
	ctx := context.Background()
	created, err := auth.SignUp(ctx, domain.SignUpRequest{Email: "ana@tienda.com", Password: "clave-segura"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	resp, err := auth.SignIn(ctx, domain.SignInRequest{Email: "ANA@tienda.com", Password: "clave-segura"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	actor, err := auth.ParseToken(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.OperatorID != created.OperatorID || actor.Email != "ana@tienda.com" {
		t.Fatalf("unexpected actor %+v", actor)
	}

	if _, err := auth.SignIn(ctx, domain.SignInRequest{Email: "ana@tienda.com", Password: "otra"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := auth.SignIn(ctx, domain.SignInRequest{Email: "nadie@tienda.com", Password: "clave-segura"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestTokenExpires(t *testing.T) {
	auth := NewAuthManager("secret", time.Minute, memory.New())
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return now }

	resp, err := auth.SignUp(context.Background(), domain.SignUpRequest{Email: "ana@tienda.com", Password: "clave-segura"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := auth.ParseToken(context.Background(), resp.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestSignOutRevokesUntilExpiry(t *testing.T) {
	auth := NewAuthManager("secret", time.Minute, memory.New())
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := auth.SignUp(ctx, domain.SignUpRequest{Email: "ana@tienda.com", Password: "clave-segura"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	second, err := auth.SignIn(ctx, domain.SignInRequest{Email: "ana@tienda.com", Password: "clave-segura"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	if err := auth.SignOut(ctx, first.AccessToken); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, err := auth.ParseToken(ctx, first.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked token to be rejected, got %v", err)
	}
	if _, err := auth.ParseToken(ctx, second.AccessToken); err != nil {
		t.Fatalf("other sessions must stay valid: %v", err)
	}

	now = now.Add(2 * time.Minute)
	auth.mu.Lock()
	auth.pruneLocked()
	remaining := len(auth.revoked)
	auth.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected expired revocations to be pruned, got %d", remaining)
	}
}

func TestParseTokenRejectsForeignTokens(t *testing.T) {
	auth := NewAuthManager("secret", time.Hour, memory.New())
	other := NewAuthManager("another-secret", time.Hour, memory.New())
	ctx := context.Background()

	resp, err := other.SignUp(ctx, domain.SignUpRequest{Email: "ana@tienda.com", Password: "clave-segura"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if _, err := auth.ParseToken(ctx, resp.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected token signed with another secret to be rejected, got %v", err)
	}

	unsigned, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{ID: "x", Subject: "op-1"},
	}).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := auth.ParseToken(ctx, unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected alg=none token to be rejected, got %v", err)
	}
}

func TestPasswordHashHelpers(t *testing.T) {
	hash, err := hashPassword("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !isPasswordHash(hash) {
		t.Fatalf("expected bcrypt prefix, got %q", hash)
	}
	if !verifyPassword(hash, "secret") {
		t.Fatalf("expected password to verify")
	}
	if verifyPassword("secret", "secret") {
		t.Fatalf("plain text must never verify")
	}
}
