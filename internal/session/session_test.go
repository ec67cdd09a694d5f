package session

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mintToken(t *testing.T, sub, email, role string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"role":  role,
	}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestFromToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := mintToken(t, "U1", "doc@example.com", "doctor", exp)

	s, err := FromToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.UserID != "U1" || s.Email != "doc@example.com" || s.Role != "doctor" {
		t.Errorf("unexpected claims: %+v", s)
	}
	if !s.ExpiresAt.Equal(exp) {
		t.Errorf("expected exp %v, got %v", exp, s.ExpiresAt)
	}
	if s.Token() != token {
		t.Error("session must carry the raw token")
	}
}

func TestFromTokenMalformed(t *testing.T) {
	if _, err := FromToken("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	s := &Session{ExpiresAt: now.Add(-time.Minute)}
	if !s.Expired(now) {
		t.Error("expected expired session")
	}
	s = &Session{ExpiresAt: now.Add(time.Minute)}
	if s.Expired(now) {
		t.Error("expected live session")
	}
	s = &Session{} // no exp claim
	if s.Expired(now) {
		t.Error("sessions without exp must not report expired")
	}
}

func TestSaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	token := mintToken(t, "U1", "doc@example.com", "doctor", time.Now().Add(time.Hour))

	s, err := FromToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.TokenValue != token || loaded.Role != "doctor" {
		t.Errorf("roundtrip mismatch: %+v", loaded)
	}

	if err := Clear(path); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession after clear, got %v", err)
	}
	// Clearing again is fine.
	if err := Clear(path); err != nil {
		t.Errorf("second clear should be a no-op, got %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	if _, err := Load(path); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}
