// Package marketplace implements the OAuth2 PKCE client for the commerce API:
// authorization-code exchange, access/refresh token caching and authenticated
// request dispatch for a single connected account.
package marketplace

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	codeChallengeMethod = "S256"
	stateTTL            = 10 * time.Minute
	stateCapacity       = 128
	stateLength         = 32
	verifierLength      = 128
	expirySafetyMargin  = 60 * time.Second
	httpTimeout         = 15 * time.Second

	// RFC 7636 unreserved characters.
	verifierCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
)

// Config holds the endpoints and credentials for one commerce API account.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	RedirectURL  string
	Scopes       []string
}

// Client owns the token lifecycle for the commerce API. Tokens live in memory
// only; a process restart requires a new authorization flow.
type Client struct {
	cfg        Config
	httpClient *http.Client
	states     *stateStore

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// TokenResponse is the raw token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// AuthStatus is the connection state reported to the admin UI.
type AuthStatus struct {
	Authenticated      bool   `json:"authenticated"`
	NeedsAuthorization bool   `json:"needsAuthorization,omitempty"`
	AuthURL            string `json:"authUrl,omitempty"`
}

// NewClient creates a Client from config. It fails with ErrNotConfigured when
// the client id or secret is absent, so callers can treat the marketplace
// connection as an optional feature.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrNotConfigured
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: httpTimeout},
		states:     newStateStore(stateTTL, stateCapacity),
	}, nil
}

// BeginAuthorization mints a state and PKCE verifier, records them, and
// returns the authorization URL the user agent must be redirected to.
func (c *Client) BeginAuthorization() (string, error) {
	state, err := randomString(stateLength)
	if err != nil {
		return "", err
	}
	verifier, err := randomString(verifierLength)
	if err != nil {
		return "", err
	}

	c.states.save(state, pendingAuth{
		CodeVerifier: verifier,
		CreatedAt:    time.Now(),
	})

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", c.cfg.ClientID)
	params.Set("redirect_uri", c.cfg.RedirectURL)
	params.Set("scope", strings.Join(c.cfg.Scopes, " "))
	params.Set("state", state)
	params.Set("code_challenge", pkceChallenge(verifier))
	params.Set("code_challenge_method", codeChallengeMethod)

	return c.cfg.AuthURL + "?" + params.Encode(), nil
}

// ExchangeCode trades an authorization code for tokens. The state must match
// an outstanding authorization attempt; consumed states are single use.
func (c *Client) ExchangeCode(ctx context.Context, code, state string) (*TokenResponse, error) {
	pending, ok := c.states.pop(state)
	if !ok {
		return nil, ErrInvalidState
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURL)
	form.Set("code_verifier", pending.CodeVerifier)

	token, status, body, err := c.postToken(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, &ExchangeError{Status: status, Body: body}
	}

	c.storeToken(token)
	return token, nil
}

// Refresh obtains a new access token using the cached refresh token. The
// refresh token is only replaced when the server rotates it.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := c.refreshToken
	c.mu.Unlock()
	if refreshToken == "" {
		return ErrNoRefreshToken
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	token, status, body, err := c.postToken(ctx, form)
	if err != nil {
		return fmt.Errorf("refresh access token: %w", err)
	}
	if status < 200 || status >= 300 {
		return &RefreshError{Status: status, Body: body}
	}

	c.storeToken(token)
	return nil
}

// TokenForRequest returns a currently valid access token, refreshing once if
// the cached one has expired. A failed refresh clears the refresh token so
// later calls fail fast with ErrNoValidToken instead of repeating a doomed
// network round-trip.
func (c *Client) TokenForRequest(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.accessToken != "" && time.Now().Before(c.expiresAt) {
		token := c.accessToken
		c.mu.Unlock()
		return token, nil
	}
	hasRefresh := c.refreshToken != ""
	c.mu.Unlock()

	if !hasRefresh {
		return "", ErrNoValidToken
	}
	if err := c.Refresh(ctx); err != nil {
		c.mu.Lock()
		c.refreshToken = ""
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %v", ErrReauthorizationRequired, err)
	}

	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()
	return token, nil
}

// RequestOptions carries the optional parts of an authenticated API call.
type RequestOptions struct {
	Query  url.Values
	Body   io.Reader
	Header http.Header
}

// Do performs an authenticated API request and returns the raw JSON body. A
// 401 clears the cached access token before failing, so the next call goes
// through the refresh path.
func (c *Client) Do(ctx context.Context, method, endpoint string, opts RequestOptions) (json.RawMessage, error) {
	token, err := c.TokenForRequest(ctx)
	if err != nil {
		return nil, err
	}

	target := endpoint
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.cfg.APIBaseURL + endpoint
	}
	if len(opts.Query) > 0 {
		target = target + "?" + opts.Query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, opts.Body)
	if err != nil {
		return nil, fmt.Errorf("build API request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	for key, values := range opts.Header {
		for _, value := range values {
			req.Header.Set(key, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read API response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.accessToken = ""
		c.mu.Unlock()
		return nil, ErrAuthenticationExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	return json.RawMessage(body), nil
}

// IsAuthenticated reports whether a non-expired access token is cached.
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken != "" && time.Now().Before(c.expiresAt)
}

// Status reports the connection state. While unauthenticated it mints a fresh
// authorization URL on every call; the bounded state store keeps repeated
// polling from growing memory.
func (c *Client) Status() (AuthStatus, error) {
	if c.IsAuthenticated() {
		return AuthStatus{Authenticated: true}, nil
	}
	authURL, err := c.BeginAuthorization()
	if err != nil {
		return AuthStatus{}, err
	}
	return AuthStatus{NeedsAuthorization: true, AuthURL: authURL}, nil
}

// ClearAuth discards all cached tokens, forcing a new authorization flow.
func (c *Client) ClearAuth() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = ""
	c.refreshToken = ""
	c.expiresAt = time.Time{}
}

// CleanupExpiredStates removes authorization states older than ten minutes
// and returns how many were removed. Invoked periodically by the server.
func (c *Client) CleanupExpiredStates() int {
	return c.states.sweep()
}

func (c *Client) postToken(ctx context.Context, form url.Values) (*TokenResponse, int, string, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, string(body), nil
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, 0, "", fmt.Errorf("decode token response: %w", err)
	}
	return &token, resp.StatusCode, "", nil
}

func (c *Client) storeToken(token *TokenResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(token.ExpiresIn)*time.Second - expirySafetyMargin)
	if token.RefreshToken != "" {
		c.refreshToken = token.RefreshToken
	}
}

func randomString(length int) (string, error) {
	charsetLen := big.NewInt(int64(len(verifierCharset)))
	result := make([]byte, length)
	for i := range result {
		num, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", fmt.Errorf("generate random string: %w", err)
		}
		result[i] = verifierCharset[num.Int64()]
	}
	return string(result), nil
}

func pkceChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
