package mockapi

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mediflow/mediflow/internal/pharmacy"
	"github.com/mediflow/mediflow/internal/rx"
)

// MemStore is the default backing store: demo directories seeded at
// construction, everything else kept in maps under one mutex.
type MemStore struct {
	mu            sync.RWMutex
	accounts      []Account
	sessions      map[string]AuthSession
	patients      []rx.Patient
	medicines     []rx.Medicine
	pharmacies    []pharmacy.Pharmacy
	prescriptions []rx.Prescription
}

func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]AuthSession),
		accounts: []Account{
			{ID: "U001", Email: "doctor@mediflow.test", Phone: "+15550100", Role: "doctor", Password: "password", CreatedAt: time.Now().UTC()},
			{ID: "U002", Email: "admin@mediflow.test", Phone: "+15550101", Role: "admin", Password: "password", CreatedAt: time.Now().UTC()},
		},
		patients: []rx.Patient{
			{ID: "P001", FullName: "John Smith", DateOfBirth: "1985-03-12"},
			{ID: "P002", FullName: "Sarah Johnson", DateOfBirth: "1992-07-25"},
			{ID: "P003", FullName: "Michael Brown", DateOfBirth: "1978-11-04"},
			{ID: "P004", FullName: "Emily Davis", DateOfBirth: "2001-01-30"},
		},
		medicines: []rx.Medicine{
			{ID: "M001", BrandName: "Zestril", GenericName: "Lisinopril"},
			{ID: "M002", BrandName: "Glucophage", GenericName: "Metformin"},
			{ID: "M003", BrandName: "Amoxil", GenericName: "Amoxicillin"},
			{ID: "M004", BrandName: "Lipitor", GenericName: "Atorvastatin"},
			{ID: "M005", BrandName: "Doliprane", GenericName: "Paracétamol"},
		},
		pharmacies: []pharmacy.Pharmacy{
			{ID: "PH001", Name: "Central Pharmacy", Address: "12 Main St", Phone: "+15550200", Latitude: 40.7128, Longitude: -74.0060},
			{ID: "PH002", Name: "Riverside Drugs", Address: "88 River Rd", Phone: "+15550201", Latitude: 40.7306, Longitude: -73.9866},
			{ID: "PH003", Name: "Hilltop Chemist", Address: "3 Summit Ave", Phone: "+15550202", Latitude: 40.6892, Longitude: -74.0445},
		},
	}
}

func (s *MemStore) FindAccount(_ context.Context, emailOrPhone string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(strings.TrimSpace(emailOrPhone))
	for _, a := range s.accounts {
		if strings.ToLower(a.Email) == needle || a.Phone == emailOrPhone {
			acct := a
			return &acct, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) CreateAccount(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, *a)
	return nil
}

func (s *MemStore) CreateSession(_ context.Context, sess *AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.JTI] = *sess
	return nil
}

func (s *MemStore) GetSession(_ context.Context, jti string) (*AuthSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[jti]
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *MemStore) DeleteSession(_ context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, jti)
	return nil
}

func (s *MemStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for jti, sess := range s.sessions {
		if sess.ExpiresAt.Before(now) {
			delete(s.sessions, jti)
			n++
		}
	}
	return n, nil
}

func (s *MemStore) SearchPatients(_ context.Context, query string, limit int) ([]rx.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rx.Patient, 0, limit)
	for _, p := range s.patients {
		if matches(query, p.FullName, p.ID) {
			out = append(out, p)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemStore) GetPatient(_ context.Context, id string) (*rx.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.patients {
		if p.ID == id {
			pat := p
			return &pat, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) SearchMedicines(_ context.Context, query string, limit int) ([]rx.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rx.Medicine, 0, limit)
	for _, m := range s.medicines {
		if matches(query, m.BrandName, m.GenericName) {
			out = append(out, m)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemStore) CreatePrescription(_ context.Context, p *rx.Prescription, dupSince time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := lineSetKey(p.Medicines)
	for _, existing := range s.prescriptions {
		if existing.PatientID != p.PatientID || existing.CreatedAt.Before(dupSince) {
			continue
		}
		if lineSetKey(existing.Medicines) == want {
			return ErrDuplicate
		}
	}
	s.prescriptions = append(s.prescriptions, *p)
	return nil
}

func (s *MemStore) GetPrescription(_ context.Context, id string) (*rx.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.prescriptions {
		if p.ID == id {
			rec := p
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) ListPrescriptions(_ context.Context, patientID string, limit, offset int) ([]rx.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]rx.Prescription, 0, len(s.prescriptions))
	for _, p := range s.prescriptions {
		if patientID == "" || p.PatientID == patientID {
			all = append(all, p)
		}
	}
	// Newest first.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return []rx.Prescription{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemStore) ListPharmacies(_ context.Context) ([]pharmacy.Pharmacy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pharmacy.Pharmacy, len(s.pharmacies))
	copy(out, s.pharmacies)
	return out, nil
}

func (s *MemStore) Close() {}

// lineSetKey canonicalizes a prescription's medicine ID set so two
// prescriptions compare equal regardless of line order.
func lineSetKey(lines []rx.MedicationLine) string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.MedicineID)
	}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}
