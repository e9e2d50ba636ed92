package marketplace

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned by NewClient when the client id or secret
	// is missing from the environment.
	ErrNotConfigured = errors.New("marketplace: client credentials not configured")

	// ErrInvalidState is returned when an authorization code arrives with a
	// state value that is unknown, already consumed, or expired.
	ErrInvalidState = errors.New("marketplace: unknown or expired authorization state")

	// ErrNoRefreshToken is returned by Refresh when no refresh token is cached.
	ErrNoRefreshToken = errors.New("marketplace: no refresh token cached")

	// ErrReauthorizationRequired is returned when a refresh attempt failed and
	// a new authorization flow is needed.
	ErrReauthorizationRequired = errors.New("marketplace: reauthorization required")

	// ErrNoValidToken is returned when the access token is expired and no
	// refresh token is available.
	ErrNoValidToken = errors.New("marketplace: no valid access token")

	// ErrAuthenticationExpired is returned when the API rejects the bearer
	// token with a 401. The cached access token is cleared before returning.
	ErrAuthenticationExpired = errors.New("marketplace: access token rejected by API")
)

// ExchangeError reports a non-2xx response from the token endpoint during the
// authorization-code exchange.
type ExchangeError struct {
	Status int
	Body   string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("marketplace: token exchange failed with status %d: %s", e.Status, e.Body)
}

// RefreshError reports a non-2xx response from the token endpoint during a
// refresh-token grant.
type RefreshError struct {
	Status int
	Body   string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("marketplace: token refresh failed with status %d: %s", e.Status, e.Body)
}

// APIError reports a non-2xx, non-401 response from an authenticated API call.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace: API call failed with status %d: %s", e.Status, e.Body)
}
