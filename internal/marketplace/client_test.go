package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, tokenURL, apiURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      "https://auth.example.com/oauth2/authorize",
		TokenURL:     tokenURL,
		APIBaseURL:   apiURL,
		RedirectURL:  "https://app.example.com/auth/marketplace/callback",
		Scopes:       []string{"https://api.example.com/scope"},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func tokenHandler(calls *int32, token TokenResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(token)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{ClientID: "id"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := NewClient(Config{ClientSecret: "secret"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestBeginAuthorization(t *testing.T) {
	client := newTestClient(t, "https://token.example.com", "https://api.example.com")

	authURL, err := client.BeginAuthorization()
	if err != nil {
		t.Fatalf("BeginAuthorization: %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth URL: %v", err)
	}
	query := parsed.Query()

	if got := query.Get("response_type"); got != "code" {
		t.Fatalf("response_type = %q, want code", got)
	}
	if got := query.Get("code_challenge_method"); got != "S256" {
		t.Fatalf("code_challenge_method = %q, want S256", got)
	}
	state := query.Get("state")
	if len(state) != stateLength {
		t.Fatalf("state length = %d, want %d", len(state), stateLength)
	}
	for _, r := range state {
		if !strings.ContainsRune(verifierCharset, r) {
			t.Fatalf("state contains character %q outside allowed alphabet", r)
		}
	}

	pending, ok := client.states.pop(state)
	if !ok {
		t.Fatalf("state %q not stored", state)
	}
	if len(pending.CodeVerifier) != verifierLength {
		t.Fatalf("verifier length = %d, want %d", len(pending.CodeVerifier), verifierLength)
	}
	if got := query.Get("code_challenge"); got != pkceChallenge(pending.CodeVerifier) {
		t.Fatalf("code_challenge = %q does not match SHA-256 of verifier", got)
	}
}

func TestBeginAuthorizationStatesUnique(t *testing.T) {
	client := newTestClient(t, "https://token.example.com", "https://api.example.com")

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		authURL, err := client.BeginAuthorization()
		if err != nil {
			t.Fatalf("BeginAuthorization: %v", err)
		}
		parsed, _ := url.Parse(authURL)
		state := parsed.Query().Get("state")
		if seen[state] {
			t.Fatalf("state %q issued twice", state)
		}
		seen[state] = true
	}
}

func TestExchangeCodeUnknownState(t *testing.T) {
	var calls int32
	server := httptest.NewServer(tokenHandler(&calls, TokenResponse{}))
	defer server.Close()

	client := newTestClient(t, server.URL, "https://api.example.com")

	if _, err := client.ExchangeCode(context.Background(), "code", "nope"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("token endpoint was called %d times for an unknown state", calls)
	}
}

func TestExchangeCodeSuccess(t *testing.T) {
	var calls int32
	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		r.ParseForm()
		gotForm = r.PostForm
		json.NewEncoder(w).Encode(TokenResponse{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "https://api.example.com")

	authURL, err := client.BeginAuthorization()
	if err != nil {
		t.Fatalf("BeginAuthorization: %v", err)
	}
	parsed, _ := url.Parse(authURL)
	state := parsed.Query().Get("state")

	before := time.Now()
	token, err := client.ExchangeCode(context.Background(), "the-code", state)
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if token.AccessToken != "access-1" {
		t.Fatalf("access token = %q", token.AccessToken)
	}
	if gotForm.Get("grant_type") != "authorization_code" {
		t.Fatalf("grant_type = %q", gotForm.Get("grant_type"))
	}
	if gotForm.Get("code") != "the-code" {
		t.Fatalf("code = %q", gotForm.Get("code"))
	}
	if gotForm.Get("code_verifier") == "" {
		t.Fatal("code_verifier missing from token request")
	}

	if !client.IsAuthenticated() {
		t.Fatal("expected IsAuthenticated after successful exchange")
	}
	want := before.Add(3600*time.Second - expirySafetyMargin)
	if diff := client.expiresAt.Sub(want); diff < 0 || diff > 5*time.Second {
		t.Fatalf("expiresAt off by %v from expires_in minus safety margin", diff)
	}

	// Consumed states are single use.
	if _, err := client.ExchangeCode(context.Background(), "the-code", state); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on reuse, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("token endpoint called %d times, want 1", calls)
	}
}

func TestExchangeCodeFailureCarriesStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_grant", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "https://api.example.com")
	authURL, _ := client.BeginAuthorization()
	parsed, _ := url.Parse(authURL)
	state := parsed.Query().Get("state")

	_, err := client.ExchangeCode(context.Background(), "bad-code", state)
	var exchangeErr *ExchangeError
	if !errors.As(err, &exchangeErr) {
		t.Fatalf("expected *ExchangeError, got %v", err)
	}
	if exchangeErr.Status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", exchangeErr.Status)
	}
	if !strings.Contains(exchangeErr.Body, "invalid_grant") {
		t.Fatalf("body = %q, want it to carry the server response", exchangeErr.Body)
	}
}

func TestTokenForRequestUsesCacheWithoutNetwork(t *testing.T) {
	var calls int32
	server := httptest.NewServer(tokenHandler(&calls, TokenResponse{AccessToken: "fresh"}))
	defer server.Close()

	client := newTestClient(t, server.URL, "https://api.example.com")
	client.accessToken = "cached"
	client.refreshToken = "refresh-1"
	client.expiresAt = time.Now().Add(time.Hour)

	token, err := client.TokenForRequest(context.Background())
	if err != nil {
		t.Fatalf("TokenForRequest: %v", err)
	}
	if token != "cached" {
		t.Fatalf("token = %q, want cached", token)
	}
	if calls != 0 {
		t.Fatalf("token endpoint called %d times for a fresh token", calls)
	}
}

func TestTokenForRequestRefreshesExpiredToken(t *testing.T) {
	var calls int32
	server := httptest.NewServer(tokenHandler(&calls, TokenResponse{
		AccessToken: "access-2",
		ExpiresIn:   7200,
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "https://api.example.com")
	client.accessToken = "stale"
	client.refreshToken = "refresh-1"
	client.expiresAt = time.Now().Add(-time.Minute)

	token, err := client.TokenForRequest(context.Background())
	if err != nil {
		t.Fatalf("TokenForRequest: %v", err)
	}
	if token != "access-2" {
		t.Fatalf("token = %q, want access-2", token)
	}
	if calls != 1 {
		t.Fatalf("token endpoint called %d times, want exactly 1", calls)
	}
	// Refresh token is kept when the server does not rotate it.
	if client.refreshToken != "refresh-1" {
		t.Fatalf("refresh token = %q, want refresh-1", client.refreshToken)
	}
}

func TestTokenForRequestNoRefreshToken(t *testing.T) {
	client := newTestClient(t, "https://token.example.com", "https://api.example.com")
	client.accessToken = "stale"
	client.expiresAt = time.Now().Add(-time.Minute)

	if _, err := client.TokenForRequest(context.Background()); !errors.Is(err, ErrNoValidToken) {
		t.Fatalf("expected ErrNoValidToken, got %v", err)
	}
}

func TestTokenForRequestRefreshFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid refresh token", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "https://api.example.com")
	client.refreshToken = "dead"
	client.expiresAt = time.Now().Add(-time.Minute)

	if _, err := client.TokenForRequest(context.Background()); !errors.Is(err, ErrReauthorizationRequired) {
		t.Fatalf("expected ErrReauthorizationRequired, got %v", err)
	}
	// The dead refresh token is discarded, so the next call fails fast.
	if _, err := client.TokenForRequest(context.Background()); !errors.Is(err, ErrNoValidToken) {
		t.Fatalf("expected ErrNoValidToken after failed refresh, got %v", err)
	}
}

func TestRefreshWithoutToken(t *testing.T) {
	client := newTestClient(t, "https://token.example.com", "https://api.example.com")
	if err := client.Refresh(context.Background()); !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected ErrNoRefreshToken, got %v", err)
	}
}

func TestRefreshRotatesTokenWhenProvided(t *testing.T) {
	var calls int32
	server := httptest.NewServer(tokenHandler(&calls, TokenResponse{
		AccessToken:  "access-3",
		RefreshToken: "refresh-2",
		ExpiresIn:    3600,
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "https://api.example.com")
	client.refreshToken = "refresh-1"

	if err := client.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if client.refreshToken != "refresh-2" {
		t.Fatalf("refresh token = %q, want rotated refresh-2", client.refreshToken)
	}
	if client.accessToken != "access-3" {
		t.Fatalf("access token = %q, want access-3", client.accessToken)
	}
}

func TestRefreshFailureCarriesStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "https://api.example.com")
	client.refreshToken = "refresh-1"

	err := client.Refresh(context.Background())
	var refreshErr *RefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("expected *RefreshError, got %v", err)
	}
	if refreshErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", refreshErr.Status)
	}
}

func TestDoUnauthorizedClearsAccessToken(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	var refreshCalls int32
	tokenServer := httptest.NewServer(tokenHandler(&refreshCalls, TokenResponse{
		AccessToken: "access-2",
		ExpiresIn:   3600,
	}))
	defer tokenServer.Close()

	client := newTestClient(t, tokenServer.URL, api.URL)
	client.accessToken = "revoked"
	client.refreshToken = "refresh-1"
	client.expiresAt = time.Now().Add(time.Hour)

	_, err := client.Do(context.Background(), http.MethodGet, "/buy/browse/v1/item_summary/search", RequestOptions{})
	if !errors.Is(err, ErrAuthenticationExpired) {
		t.Fatalf("expected ErrAuthenticationExpired, got %v", err)
	}
	if client.accessToken != "" {
		t.Fatalf("access token %q not cleared after 401", client.accessToken)
	}

	// The next token lookup goes through the refresh path.
	if _, err := client.TokenForRequest(context.Background()); err != nil {
		t.Fatalf("TokenForRequest after 401: %v", err)
	}
	if refreshCalls != 1 {
		t.Fatalf("refresh called %d times, want 1", refreshCalls)
	}
}

func TestDoFailureCarriesStatusAndBody(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer api.Close()

	client := newTestClient(t, "https://token.example.com", api.URL)
	client.accessToken = "access-1"
	client.expiresAt = time.Now().Add(time.Hour)

	_, err := client.Do(context.Background(), http.MethodGet, "/anything", RequestOptions{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", apiErr.Status)
	}
	if !strings.Contains(apiErr.Body, "rate limited") {
		t.Fatalf("body = %q", apiErr.Body)
	}
}

func TestDoSendsBearerAndMergesHeaders(t *testing.T) {
	var gotAuth, gotCustom string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("X-Market-Id")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer api.Close()

	client := newTestClient(t, "https://token.example.com", api.URL)
	client.accessToken = "access-1"
	client.expiresAt = time.Now().Add(time.Hour)

	header := http.Header{}
	header.Set("X-Market-Id", "EBAY_US")
	raw, err := client.Do(context.Background(), http.MethodGet, "/ping", RequestOptions{Header: header})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if gotAuth != "Bearer access-1" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotCustom != "EBAY_US" {
		t.Fatalf("custom header = %q", gotCustom)
	}
	if string(raw) != `{"ok":true}` {
		t.Fatalf("body = %s", raw)
	}
}

func TestStatus(t *testing.T) {
	client := newTestClient(t, "https://token.example.com", "https://api.example.com")

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Authenticated || !status.NeedsAuthorization || status.AuthURL == "" {
		t.Fatalf("unexpected unauthenticated status: %+v", status)
	}

	client.accessToken = "access-1"
	client.expiresAt = time.Now().Add(time.Hour)

	status, err = client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Authenticated || status.AuthURL != "" {
		t.Fatalf("unexpected authenticated status: %+v", status)
	}
}

func TestClearAuth(t *testing.T) {
	client := newTestClient(t, "https://token.example.com", "https://api.example.com")
	client.accessToken = "access-1"
	client.refreshToken = "refresh-1"
	client.expiresAt = time.Now().Add(time.Hour)

	client.ClearAuth()

	if client.IsAuthenticated() {
		t.Fatal("still authenticated after ClearAuth")
	}
	if client.refreshToken != "" {
		t.Fatal("refresh token survived ClearAuth")
	}
}
