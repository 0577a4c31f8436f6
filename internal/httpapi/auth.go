package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/store"
	"github.com/r3xsaler/Mi-tienda-pos/internal/xid"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrWeakPassword       = fmt.Errorf("%w: password must be at least 6 characters", domain.ErrValidation)
	ErrInvalidEmail       = fmt.Errorf("%w: invalid email address", domain.ErrValidation)
)

const minPasswordLength = 6

// Authenticator turns credentials into bearer tokens and tokens back into the
// operator they belong to.
type Authenticator interface {
	SignUp(ctx context.Context, req domain.SignUpRequest) (domain.SessionResponse, error)
	SignIn(ctx context.Context, req domain.SignInRequest) (domain.SessionResponse, error)
	SignOut(ctx context.Context, token string) error
	ParseToken(ctx context.Context, token string) (domain.Actor, error)
}

// AuthManager issues HS256 access tokens for accounts kept in a Users store.
type AuthManager struct {
	mu       sync.Mutex
	secret   []byte
	tokenTTL time.Duration
	users    store.Users
	revoked  map[string]time.Time
	now      func() time.Time
}

var _ Authenticator = (*AuthManager)(nil)

type posClaims struct {
	jwtlib.RegisteredClaims
	Email string `json:"email"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users store.Users) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		revoked:  make(map[string]time.Time),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) SignUp(ctx context.Context, req domain.SignUpRequest) (domain.SessionResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	if len(req.Password) < minPasswordLength {
		return domain.SessionResponse{}, ErrWeakPassword
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.SessionResponse{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.UserAccount{
		ID:        xid.New("op"),
		Email:     email,
		Password:  passwordHash,
		CreatedAt: a.now(),
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		return domain.SessionResponse{}, err
	}
	return a.issue(user.ID, email)
}

func (a *AuthManager) SignIn(ctx context.Context, req domain.SignInRequest) (domain.SessionResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return domain.SessionResponse{}, ErrInvalidCredentials
	}
	user, err := a.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SessionResponse{}, ErrInvalidCredentials
		}
		return domain.SessionResponse{}, err
	}
	if !verifyPassword(user.Password, req.Password) {
		return domain.SessionResponse{}, ErrInvalidCredentials
	}
	return a.issue(user.ID, user.Email)
}

// SignOut revokes the token's id until the token would have expired anyway.
func (a *AuthManager) SignOut(_ context.Context, token string) error {
	claims, err := a.parse(token)
	if err != nil {
		return err
	}
	expiresAt := a.now().Add(a.tokenTTL)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked()
	a.revoked[claims.ID] = expiresAt
	return nil
}

func (a *AuthManager) ParseToken(_ context.Context, token string) (domain.Actor, error) {
	claims, err := a.parse(token)
	if err != nil {
		return domain.Actor{}, err
	}

	a.mu.Lock()
	_, revoked := a.revoked[claims.ID]
	a.mu.Unlock()
	if revoked {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{OperatorID: claims.Subject, Email: claims.Email}, nil
}

func (a *AuthManager) parse(tokenStr string) (*posClaims, error) {
	claims := &posClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (a *AuthManager) issue(operatorID, email string) (domain.SessionResponse, error) {
	now := a.now()
	expiresAt := now.Add(a.tokenTTL)
	claims := posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        xid.New(""),
			Subject:   operatorID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "mi-tienda-pos",
		},
		Email: email,
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	return domain.SessionResponse{
		AccessToken: signed,
		OperatorID:  operatorID,
		Email:       email,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) pruneLocked() {
	now := a.now()
	for id, until := range a.revoked {
		if !until.After(now) {
			delete(a.revoked, id)
		}
	}
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || input == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
