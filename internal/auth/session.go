package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionManager issues and verifies the HS256 JWTs stored in the session
// cookie.
type SessionManager struct {
	key []byte
	ttl time.Duration
}

// NewSessionManager constructs a SessionManager with a shared secret key.
func NewSessionManager(signingKey string, ttl time.Duration) (*SessionManager, error) {
	if signingKey == "" {
		return nil, errors.New("signing key is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionManager{
		key: []byte(signingKey),
		ttl: ttl,
	}, nil
}

// Session is the payload carried by the cookie token.
type Session struct {
	UserID string
	Email  string
	Admin  bool
}

// Mint creates a signed JWT and returns the serialized token and expiry.
func (m *SessionManager) Mint(session Session) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(m.ttl)
	claims := jwt.MapClaims{
		"sub":   session.UserID,
		"email": session.Email,
		"admin": session.Admin,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, exp, nil
}

// Verify validates a serialized JWT and returns the session payload.
func (m *SessionManager) Verify(tokenString string) (Session, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Header["alg"])
		}
		return m.key, nil
	})
	if err != nil {
		return Session{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Session{}, errors.New("invalid token claims")
	}

	session := Session{}
	if sub, ok := claims["sub"].(string); ok {
		session.UserID = sub
	}
	if email, ok := claims["email"].(string); ok {
		session.Email = email
	}
	if admin, ok := claims["admin"].(bool); ok {
		session.Admin = admin
	}
	if session.UserID == "" {
		return Session{}, errors.New("session token missing subject")
	}
	return session, nil
}
