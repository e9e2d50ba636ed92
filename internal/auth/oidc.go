// Package auth covers user sign-in: password accounts, optional OIDC single
// sign-on, and the session tokens both produce.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/snapvalue/snapvalue/internal/config"
)

const (
	codeChallengeMethod = "S256"
	defaultStateTTL     = 10 * time.Minute
	httpTimeout         = 15 * time.Second
)

// OIDCService wraps OIDC/OAuth2 sign-in, including PKCE handling.
type OIDCService struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	stateStore   *stateStore
	provider     *oidc.Provider
	httpClient   *http.Client
}

// Identity is the normalized payload extracted from the ID token.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// NewOIDCService creates an OIDCService from config.
func NewOIDCService(ctx context.Context, cfg config.OIDC) (*OIDCService, error) {
	httpClient := &http.Client{Timeout: httpTimeout}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	provider, err := oidc.NewProvider(ctx, cfg.ProviderURL)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}

	return &OIDCService{
		oauth2Config: oauth2Config,
		verifier:     verifier,
		stateStore:   newStateStore(defaultStateTTL),
		provider:     provider,
		httpClient:   httpClient,
	}, nil
}

// BeginAuth constructs the authorization URL and stores PKCE metadata.
func (s *OIDCService) BeginAuth(ctx context.Context, returnTo string) (string, error) {
	state, err := randomState(32)
	if err != nil {
		return "", err
	}
	codeVerifier, err := randomState(64)
	if err != nil {
		return "", err
	}
	codeChallenge := pkceChallenge(codeVerifier)

	s.stateStore.save(state, loginAttempt{
		CodeVerifier: codeVerifier,
		ReturnTo:     sanitizeReturnTo(returnTo),
		CreatedAt:    time.Now(),
	})

	authURL := s.oauth2Config.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", codeChallengeMethod),
	)

	return authURL, nil
}

// CompleteAuth exchanges the auth code for tokens and returns the identity.
func (s *OIDCService) CompleteAuth(ctx context.Context, state, code string) (Identity, string, error) {
	attempt, ok := s.stateStore.pop(state)
	if !ok {
		return Identity{}, "", errors.New("invalid or expired state parameter")
	}
	if code == "" {
		return Identity{}, "", errors.New("code is required")
	}

	token, err := s.oauth2Config.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", attempt.CodeVerifier))
	if err != nil {
		return Identity{}, "", fmt.Errorf("exchange auth code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return Identity{}, "", errors.New("id_token not found in OAuth2 token response")
	}

	idToken, err := s.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Identity{}, "", fmt.Errorf("verify id_token: %w", err)
	}

	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, "", fmt.Errorf("parse id_token claims: %w", err)
	}

	identity := Identity{
		Subject: extractStringClaim(claims, "sub"),
		Email:   extractStringClaim(claims, "email"),
		Name:    extractStringClaim(claims, "name"),
	}

	if identity.Subject == "" {
		return Identity{}, "", errors.New("subject claim could not be resolved")
	}
	if identity.Email == "" {
		return Identity{}, "", errors.New("email claim could not be resolved")
	}

	return identity, attempt.ReturnTo, nil
}

func randomState(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random string: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

func sanitizeReturnTo(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "//") {
		return "/"
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.IsAbs() || parsed.Host != "" || strings.Contains(parsed.Path, "//") {
		return "/"
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	return parsed.String()
}

func extractStringClaim(claims map[string]any, path string) string {
	value := traverseClaims(claims, path)
	if str, ok := value.(string); ok {
		return str
	}
	return ""
}

func traverseClaims(claims map[string]any, path string) any {
	if path == "" {
		return nil
	}
	current := any(claims)
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[segment]
		if !ok {
			return nil
		}
	}
	return current
}
