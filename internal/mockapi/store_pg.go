package mockapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediflow/mediflow/internal/pharmacy"
	"github.com/mediflow/mediflow/internal/rx"
)

// PGStore persists the mock server's data in Postgres so demo
// prescriptions survive restarts. Schema is created on startup and the
// demo directories are seeded idempotently.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(ctx context.Context, databaseURL string, maxConns, minConns int32) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PGStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.seed(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			phone TEXT NOT NULL,
			role TEXT NOT NULL,
			password TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS auth_sessions (
			jti TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS patients (
			id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL,
			date_of_birth TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS medicines (
			id TEXT PRIMARY KEY,
			brand_name TEXT NOT NULL,
			generic_name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pharmacies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			address TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS prescriptions (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL REFERENCES patients(id),
			chief_complaints TEXT NOT NULL DEFAULT '',
			findings_on_exam TEXT NOT NULL DEFAULT '',
			advice TEXT NOT NULL DEFAULT '',
			follow_up_date TIMESTAMPTZ,
			medicines JSONB NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prescriptions_patient ON prescriptions (patient_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PGStore) seed(ctx context.Context) error {
	mem := NewMemStore()
	for _, a := range mem.accounts {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO accounts (id, email, phone, role, password)
			VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id) DO NOTHING`,
			a.ID, a.Email, a.Phone, a.Role, a.Password); err != nil {
			return fmt.Errorf("seed accounts: %w", err)
		}
	}
	for _, p := range mem.patients {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO patients (id, full_name, date_of_birth)
			VALUES ($1,$2,$3) ON CONFLICT (id) DO NOTHING`,
			p.ID, p.FullName, p.DateOfBirth); err != nil {
			return fmt.Errorf("seed patients: %w", err)
		}
	}
	for _, m := range mem.medicines {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO medicines (id, brand_name, generic_name)
			VALUES ($1,$2,$3) ON CONFLICT (id) DO NOTHING`,
			m.ID, m.BrandName, m.GenericName); err != nil {
			return fmt.Errorf("seed medicines: %w", err)
		}
	}
	for _, ph := range mem.pharmacies {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO pharmacies (id, name, address, phone, latitude, longitude)
			VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (id) DO NOTHING`,
			ph.ID, ph.Name, ph.Address, ph.Phone, ph.Latitude, ph.Longitude); err != nil {
			return fmt.Errorf("seed pharmacies: %w", err)
		}
	}
	return nil
}

func (s *PGStore) FindAccount(ctx context.Context, emailOrPhone string) (*Account, error) {
	var a Account
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, phone, role, password, created_at
		FROM accounts WHERE LOWER(email) = LOWER($1) OR phone = $1`,
		emailOrPhone).Scan(&a.ID, &a.Email, &a.Phone, &a.Role, &a.Password, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PGStore) CreateAccount(ctx context.Context, a *Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, email, phone, role, password, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.Email, a.Phone, a.Role, a.Password, a.CreatedAt)
	return err
}

func (s *PGStore) CreateSession(ctx context.Context, sess *AuthSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO auth_sessions (jti, user_id, expires_at) VALUES ($1,$2,$3)`,
		sess.JTI, sess.UserID, sess.ExpiresAt)
	return err
}

func (s *PGStore) GetSession(ctx context.Context, jti string) (*AuthSession, error) {
	var sess AuthSession
	err := s.pool.QueryRow(ctx, `
		SELECT jti, user_id, expires_at FROM auth_sessions WHERE jti = $1`,
		jti).Scan(&sess.JTI, &sess.UserID, &sess.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *PGStore) DeleteSession(ctx context.Context, jti string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE jti = $1`, jti)
	return err
}

func (s *PGStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) SearchPatients(ctx context.Context, query string, limit int) ([]rx.Patient, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, full_name, date_of_birth FROM patients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]rx.Patient, 0, limit)
	for rows.Next() {
		var p rx.Patient
		if err := rows.Scan(&p.ID, &p.FullName, &p.DateOfBirth); err != nil {
			return nil, err
		}
		// Accent folding happens here rather than in SQL so both
		// stores match the same way.
		if matches(query, p.FullName, p.ID) {
			out = append(out, p)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, rows.Err()
}

func (s *PGStore) GetPatient(ctx context.Context, id string) (*rx.Patient, error) {
	var p rx.Patient
	err := s.pool.QueryRow(ctx, `
		SELECT id, full_name, date_of_birth FROM patients WHERE id = $1`,
		id).Scan(&p.ID, &p.FullName, &p.DateOfBirth)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PGStore) SearchMedicines(ctx context.Context, query string, limit int) ([]rx.Medicine, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, brand_name, generic_name FROM medicines ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]rx.Medicine, 0, limit)
	for rows.Next() {
		var m rx.Medicine
		if err := rows.Scan(&m.ID, &m.BrandName, &m.GenericName); err != nil {
			return nil, err
		}
		if matches(query, m.BrandName, m.GenericName) {
			out = append(out, m)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, rows.Err()
}

const prescriptionCols = `id, patient_id, chief_complaints, findings_on_exam, advice,
	follow_up_date, medicines, status, created_at`

func (s *PGStore) scanPrescription(ctx context.Context, row pgx.Row) (*rx.Prescription, error) {
	var p rx.Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.ChiefComplaints, &p.FindingsOnExam, &p.Advice,
		&p.FollowUpDate, &p.Medicines, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if pat, err := s.GetPatient(ctx, p.PatientID); err == nil {
		p.Patient = *pat
	}
	return &p, nil
}

func (s *PGStore) CreatePrescription(ctx context.Context, p *rx.Prescription, dupSince time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Lock the patient row so same-patient submissions serialize and
	// the duplicate check and insert happen atomically.
	if _, err := tx.Exec(ctx, `SELECT id FROM patients WHERE id = $1 FOR UPDATE`, p.PatientID); err != nil {
		return err
	}

	rows, err := tx.Query(ctx, `
		SELECT medicines FROM prescriptions
		WHERE patient_id = $1 AND created_at >= $2`,
		p.PatientID, dupSince)
	if err != nil {
		return err
	}
	want := lineSetKey(p.Medicines)
	for rows.Next() {
		var lines []rx.MedicationLine
		if err := rows.Scan(&lines); err != nil {
			rows.Close()
			return err
		}
		if lineSetKey(lines) == want {
			rows.Close()
			return ErrDuplicate
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO prescriptions (id, patient_id, chief_complaints, findings_on_exam, advice,
			follow_up_date, medicines, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.PatientID, p.ChiefComplaints, p.FindingsOnExam, p.Advice,
		p.FollowUpDate, p.Medicines, p.Status, p.CreatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) GetPrescription(ctx context.Context, id string) (*rx.Prescription, error) {
	p, err := s.scanPrescription(ctx, s.pool.QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescriptions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *PGStore) ListPrescriptions(ctx context.Context, patientID string, limit, offset int) ([]rx.Prescription, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows pgx.Rows
		err  error
	)
	if patientID != "" {
		rows, err = s.pool.Query(ctx, `
			SELECT `+prescriptionCols+` FROM prescriptions
			WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			patientID, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+prescriptionCols+` FROM prescriptions
			ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []rx.Prescription{}
	for rows.Next() {
		var p rx.Prescription
		if err := rows.Scan(&p.ID, &p.PatientID, &p.ChiefComplaints, &p.FindingsOnExam, &p.Advice,
			&p.FollowUpDate, &p.Medicines, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if pat, err := s.GetPatient(ctx, out[i].PatientID); err == nil {
			out[i].Patient = *pat
		}
	}
	return out, nil
}

func (s *PGStore) ListPharmacies(ctx context.Context) ([]pharmacy.Pharmacy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, address, phone, latitude, longitude FROM pharmacies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []pharmacy.Pharmacy{}
	for rows.Next() {
		var p pharmacy.Pharmacy
		if err := rows.Scan(&p.ID, &p.Name, &p.Address, &p.Phone, &p.Latitude, &p.Longitude); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PGStore) Close() {
	s.pool.Close()
}
