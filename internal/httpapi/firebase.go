package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/store"
)

const identityToolkitURL = "https://identitytoolkit.googleapis.com/v1"

// firebaseClient is the part of *fbauth.Client FirebaseAuth uses.
type firebaseClient interface {
	CreateUser(ctx context.Context, user *fbauth.UserToCreate) (*fbauth.UserRecord, error)
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*fbauth.Token, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// FirebaseAuth delegates accounts to Firebase Authentication. Access tokens
// are Firebase ID tokens and the operator id is the Firebase uid.
type FirebaseAuth struct {
	client   firebaseClient
	apiKey   string
	endpoint string
	http     *http.Client
}

var _ Authenticator = (*FirebaseAuth)(nil)

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	APIKey          string
}

func NewFirebaseAuth(ctx context.Context, cfg FirebaseConfig) (*FirebaseAuth, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("firebase auth requires FIREBASE_API_KEY for password sign-in")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth: %w", err)
	}
	return newFirebaseAuth(client, cfg.APIKey, identityToolkitURL), nil
}

func newFirebaseAuth(client firebaseClient, apiKey, endpoint string) *FirebaseAuth {
	return &FirebaseAuth{
		client:   client,
		apiKey:   apiKey,
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *FirebaseAuth) SignUp(ctx context.Context, req domain.SignUpRequest) (domain.SessionResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	if len(req.Password) < minPasswordLength {
		return domain.SessionResponse{}, ErrWeakPassword
	}
	if _, err := f.client.CreateUser(ctx, (&fbauth.UserToCreate{}).Email(email).Password(req.Password)); err != nil {
		if fbauth.IsEmailAlreadyExists(err) {
			return domain.SessionResponse{}, store.ErrConflict
		}
		return domain.SessionResponse{}, fmt.Errorf("firebase create user: %w", err)
	}
	return f.SignIn(ctx, domain.SignInRequest{Email: email, Password: req.Password})
}

type passwordSignInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type passwordSignInResponse struct {
	IDToken   string `json:"idToken"`
	Email     string `json:"email"`
	LocalID   string `json:"localId"`
	ExpiresIn string `json:"expiresIn"`
}

func (f *FirebaseAuth) SignIn(ctx context.Context, req domain.SignInRequest) (domain.SessionResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return domain.SessionResponse{}, ErrInvalidCredentials
	}

	body, err := json.Marshal(passwordSignInRequest{Email: email, Password: req.Password, ReturnSecureToken: true})
	if err != nil {
		return domain.SessionResponse{}, err
	}
	endpoint := f.endpoint + "/accounts:signInWithPassword?key=" + url.QueryEscape(f.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.SessionResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Do(httpReq)
	if err != nil {
		return domain.SessionResponse{}, fmt.Errorf("firebase sign-in: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return domain.SessionResponse{}, ErrInvalidCredentials
	case resp.StatusCode != http.StatusOK:
		return domain.SessionResponse{}, fmt.Errorf("firebase sign-in: unexpected status %d", resp.StatusCode)
	}

	var out passwordSignInResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.SessionResponse{}, fmt.Errorf("firebase sign-in: %w", err)
	}
	seconds, _ := strconv.Atoi(out.ExpiresIn)
	if seconds <= 0 {
		seconds = 3600
	}
	return domain.SessionResponse{
		AccessToken: out.IDToken,
		OperatorID:  out.LocalID,
		Email:       out.Email,
		ExpiresAt:   time.Now().UTC().Add(time.Duration(seconds) * time.Second).Format(time.RFC3339),
	}, nil
}

// SignOut revokes every refresh token of the uid behind token, which also
// invalidates the ID tokens issued before now.
func (f *FirebaseAuth) SignOut(ctx context.Context, token string) error {
	actor, err := f.ParseToken(ctx, token)
	if err != nil {
		return err
	}
	if err := f.client.RevokeRefreshTokens(ctx, actor.OperatorID); err != nil {
		return fmt.Errorf("firebase revoke: %w", err)
	}
	return nil
}

func (f *FirebaseAuth) ParseToken(ctx context.Context, token string) (domain.Actor, error) {
	verified, err := f.client.VerifyIDTokenAndCheckRevoked(ctx, token)
	if err != nil || verified == nil || strings.TrimSpace(verified.UID) == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	email, _ := verified.Claims["email"].(string)
	return domain.Actor{OperatorID: verified.UID, Email: email}, nil
}
