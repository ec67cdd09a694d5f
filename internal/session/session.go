// Package session holds the authenticated session passed explicitly
// to the API client. The token is cached in a file between runs; this
// package only reads claims, validation is a server concern.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession is returned when no cached session exists.
var ErrNoSession = errors.New("no cached session; log in first")

// Session is an authenticated session: the bearer credential plus the
// identity claims read from it.
type Session struct {
	TokenValue string    `json:"token"`
	UserID     string    `json:"userId"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	ExpiresAt  time.Time `json:"expiresAt,omitempty"`
}

// Token implements api.TokenSource.
func (s *Session) Token() string {
	if s == nil {
		return ""
	}
	return s.TokenValue
}

// Expired reports whether the token's exp claim has passed. A session
// without an exp claim never reports expired; the server remains the
// authority either way.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// tokenClaims is the claim set minted by the MediFlow API.
type tokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// FromToken builds a session from a bearer token, reading the
// subject, email, role, and expiry claims without verifying the
// signature; the key belongs to the server.
func FromToken(token string) (*Session, error) {
	var claims tokenClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse token claims: %w", err)
	}
	s := &Session{
		TokenValue: token,
		UserID:     claims.Subject,
		Email:      claims.Email,
		Role:       claims.Role,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Save writes the session to path with owner-only permissions.
func (s *Session) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Load reads a cached session from path.
func Load(path string) (*Session, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.TokenValue == "" {
		return nil, ErrNoSession
	}
	return &s, nil
}

// Clear removes the cached session. A missing file is not an error.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
