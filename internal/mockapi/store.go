// Package mockapi is a self-contained development server that speaks
// the MediFlow REST API. It exists so the client packages can be
// exercised end to end without the real backend: demo directories of
// patients, medicines and pharmacies, token-based auth, and a
// prescription store with duplicate detection.
package mockapi

import (
	"context"
	"errors"
	"time"

	"github.com/mediflow/mediflow/internal/pharmacy"
	"github.com/mediflow/mediflow/internal/rx"
)

// ErrNotFound is returned by store lookups for absent records.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by CreatePrescription when the patient
// already has a prescription with the same medicine set inside the
// duplicate window.
var ErrDuplicate = errors.New("duplicate prescription")

// Account is a login credential plus the user profile returned at
// authentication. Passwords are stored in the clear; this server only
// ever holds demo data.
type Account struct {
	ID        string
	Email     string
	Phone     string
	Role      string
	Password  string
	CreatedAt time.Time
}

// AuthSession tracks an issued token by its JWT ID so logout and the
// expiry sweep can revoke it server-side.
type AuthSession struct {
	JTI       string
	UserID    string
	ExpiresAt time.Time
}

// Store is the persistence boundary of the mock server. The in-memory
// implementation seeds demo data; the Postgres one persists across
// restarts.
type Store interface {
	FindAccount(ctx context.Context, emailOrPhone string) (*Account, error)
	CreateAccount(ctx context.Context, a *Account) error

	CreateSession(ctx context.Context, s *AuthSession) error
	GetSession(ctx context.Context, jti string) (*AuthSession, error)
	DeleteSession(ctx context.Context, jti string) error
	// DeleteExpiredSessions removes sessions whose expiry precedes now
	// and returns how many were dropped.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)

	SearchPatients(ctx context.Context, query string, limit int) ([]rx.Patient, error)
	GetPatient(ctx context.Context, id string) (*rx.Patient, error)
	SearchMedicines(ctx context.Context, query string, limit int) ([]rx.Medicine, error)

	// CreatePrescription stores p unless the patient already has a
	// prescription with the same medicine set created at or after
	// dupSince, in which case it returns ErrDuplicate. The check and
	// the insert are atomic so concurrent submissions cannot both
	// pass the gate.
	CreatePrescription(ctx context.Context, p *rx.Prescription, dupSince time.Time) error
	GetPrescription(ctx context.Context, id string) (*rx.Prescription, error)
	ListPrescriptions(ctx context.Context, patientID string, limit, offset int) ([]rx.Prescription, error)

	ListPharmacies(ctx context.Context) ([]pharmacy.Pharmacy, error)

	Close()
}
