package mockapi_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mediflow/mediflow/internal/api"
	"github.com/mediflow/mediflow/internal/mockapi"
	"github.com/mediflow/mediflow/internal/rx"
)

// memToken is a TokenSource whose credential is set after login.
type memToken struct {
	mu    sync.Mutex
	token string
}

func (m *memToken) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *memToken) set(t string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = t
}

func startStack(t *testing.T) (*api.Client, *memToken) {
	t.Helper()
	srv := mockapi.NewServer(mockapi.NewMemStore(), "test-secret")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	tokens := &memToken{}
	client := api.New(ts.URL+"/api/v1", api.WithTokenSource(tokens))
	return client, tokens
}

func loginDoctor(t *testing.T, client *api.Client, tokens *memToken) {
	t.Helper()
	res, err := client.Login(context.Background(), "doctor@mediflow.test", "password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.User.Role != "doctor" {
		t.Fatalf("expected doctor role, got %q", res.User.Role)
	}
	tokens.set(res.Token)
}

// TestPrescribeFlow walks the whole composition path against the mock
// server: login, directory searches, draft composition, submission.
func TestPrescribeFlow(t *testing.T) {
	client, tokens := startStack(t)
	loginDoctor(t, client, tokens)
	ctx := context.Background()

	patients, err := client.SearchPatients(ctx, "smith", 10)
	if err != nil {
		t.Fatalf("search patients: %v", err)
	}
	if len(patients) != 1 || patients[0].ID != "P001" {
		t.Fatalf("expected John Smith, got %+v", patients)
	}

	medicines, err := client.SearchMedicines(ctx, "amoxicillin", 10)
	if err != nil {
		t.Fatalf("search medicines: %v", err)
	}
	if len(medicines) != 1 || medicines[0].BrandName != "Amoxil" {
		t.Fatalf("expected Amoxil, got %+v", medicines)
	}

	draft := rx.NewDraft()
	draft.SelectPatient(patients[0])
	line := draft.AddLine(medicines[0])
	freq := "tid"
	days := 5
	draft.UpdateLine(line.Key, rx.LineUpdate{Frequency: &freq, DurationInDays: &days})
	draft.SetChiefComplaints("sore throat, fever")

	submitter := rx.NewSubmitter(client, zerolog.Nop())
	created, err := submitter.Submit(ctx, draft)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if created.PatientID != "P001" || len(created.Medicines) != 1 {
		t.Fatalf("unexpected prescription: %+v", created)
	}
	if created.Medicines[0].Frequency != "tid" || created.Medicines[0].DurationInDays != 5 {
		t.Errorf("line edits lost in transit: %+v", created.Medicines[0])
	}
	if draft.Patient() != nil || draft.LineCount() != 0 {
		t.Error("draft must reset after a successful submission")
	}

	got, err := client.GetPrescription(ctx, created.ID)
	if err != nil {
		t.Fatalf("get prescription: %v", err)
	}
	if got.Patient.FullName != "John Smith" {
		t.Errorf("expected resolved patient, got %+v", got.Patient)
	}
}

// TestDuplicateRejection submits the same medicine set twice and
// expects the second attempt to surface as a SubmitError carrying the
// server message, leaving the draft intact for correction.
func TestDuplicateRejection(t *testing.T) {
	client, tokens := startStack(t)
	loginDoctor(t, client, tokens)
	ctx := context.Background()

	compose := func() *rx.Draft {
		d := rx.NewDraft()
		d.SelectPatient(rx.Patient{ID: "P002", FullName: "Sarah Johnson"})
		d.AddLine(rx.Medicine{ID: "M002", BrandName: "Glucophage", GenericName: "Metformin"})
		return d
	}

	submitter := rx.NewSubmitter(client, zerolog.Nop())
	if _, err := submitter.Submit(ctx, compose()); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	second := compose()
	_, err := submitter.Submit(ctx, second)
	var subErr *rx.SubmitError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmitError, got %v", err)
	}
	if subErr.Message != "Duplicate prescription" {
		t.Errorf("expected server message verbatim, got %q", subErr.Message)
	}
	if second.LineCount() != 1 {
		t.Error("draft must survive a rejected submission")
	}
}

// TestSearchProviderAgainstServer runs the debounced search provider
// over the real client.
func TestSearchProviderAgainstServer(t *testing.T) {
	client, tokens := startStack(t)
	loginDoctor(t, client, tokens)

	provider := rx.NewSearchProvider(client.SearchMedicines, 10*time.Millisecond, 10, zerolog.Nop())
	defer provider.Close()

	updates := make(chan []rx.Medicine, 8)
	provider.OnUpdate(func(candidates []rx.Medicine) {
		updates <- candidates
	})

	provider.SetQuery(context.Background(), "lisino")

	select {
	case got := <-updates:
		if len(got) != 1 || got[0].GenericName != "Lisinopril" {
			t.Fatalf("expected Lisinopril, got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for candidates")
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	client, tokens := startStack(t)
	loginDoctor(t, client, tokens)
	ctx := context.Background()

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	_, err := client.SearchPatients(ctx, "smith", 10)
	if !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after logout, got %v", err)
	}
}
