package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/subloop/subloop/pkg/accounts"
)

const googleIssuer = "https://accounts.google.com"

// GoogleConfig configures Google sign-in
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GoogleAuthenticator implements Google sign-in over OpenID Connect
type GoogleAuthenticator struct {
	store        accounts.Store
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewGoogleAuthenticator discovers Google's OIDC endpoints and builds the
// OAuth2 flow config
func NewGoogleAuthenticator(ctx context.Context, store accounts.Store, config GoogleConfig) (*GoogleAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: config.ClientID})

	oauth2Config := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  config.RedirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}

	return &GoogleAuthenticator{
		store:        store,
		verifier:     verifier,
		oauth2Config: oauth2Config,
	}, nil
}

// GenerateState creates the random state value carried through the OAuth2
// round trip
func GenerateState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// AuthURL returns the Google authorization URL for the given state
func (g *GoogleAuthenticator) AuthURL(state string) string {
	return g.oauth2Config.AuthCodeURL(state)
}

// HandleCallback exchanges the authorization code, verifies the ID token,
// and resolves the claims to an account, creating one on first sign-in
func (g *GoogleAuthenticator) HandleCallback(ctx context.Context, code string) (*accounts.Account, error) {
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	oauth2Token, err := g.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("missing id_token in response")
	}

	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	if claims.Email == "" {
		return nil, fmt.Errorf("missing email in ID token")
	}
	if !claims.EmailVerified {
		return nil, fmt.Errorf("email %q is not verified with Google", claims.Email)
	}

	return g.findOrCreateAccount(ctx, claims.Email, claims.Name)
}

func (g *GoogleAuthenticator) findOrCreateAccount(ctx context.Context, email, name string) (*accounts.Account, error) {
	account, err := g.store.FindByEmail(ctx, email)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, accounts.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	account = &accounts.Account{
		Email: email,
		Name:  name,
		Role:  accounts.RoleMember,
	}
	if err := g.store.Create(ctx, account); err != nil {
		if errors.Is(err, accounts.ErrDuplicateEmail) {
			// Lost a race with a concurrent first sign-in
			return g.store.FindByEmail(ctx, email)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}
