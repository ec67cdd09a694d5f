package rx

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// mockCreator records create calls and returns a scripted outcome.
type mockCreator struct {
	calls    []*CreatePrescriptionRequest
	err      error
	blocking chan struct{}
}

func (m *mockCreator) CreatePrescription(_ context.Context, req *CreatePrescriptionRequest) (*Prescription, error) {
	m.calls = append(m.calls, req)
	if m.blocking != nil {
		<-m.blocking
	}
	if m.err != nil {
		return nil, m.err
	}
	return &Prescription{
		ID:        "RX-123",
		PatientID: req.PatientID,
		Medicines: req.Medicines,
		Status:    "created",
		CreatedAt: time.Now(),
	}, nil
}

// rejectionError mimics the API client's application-level error.
type rejectionError struct {
	msg string
}

func (e *rejectionError) Error() string         { return e.msg }
func (e *rejectionError) ServerMessage() string { return e.msg }

func composedDraft() *Draft {
	d := NewDraft()
	d.SelectPatient(testPatient)
	line := d.AddLine(testMedicine)
	freq := "tid"
	days := 5
	d.UpdateLine(line.Key, LineUpdate{Frequency: &freq, DurationInDays: &days})
	return d
}

func TestSubmitMissingPatient(t *testing.T) {
	creator := &mockCreator{}
	s := NewSubmitter(creator, zerolog.Nop())

	d := NewDraft()
	d.AddLine(testMedicine)

	_, err := s.Submit(context.Background(), d)
	if !errors.Is(err, ErrMissingPatient) {
		t.Fatalf("expected ErrMissingPatient, got %v", err)
	}
	if len(creator.calls) != 0 {
		t.Error("no remote call may be issued when validation fails")
	}
}

func TestSubmitEmptyMedicationList(t *testing.T) {
	creator := &mockCreator{}
	s := NewSubmitter(creator, zerolog.Nop())

	d := NewDraft()
	d.SelectPatient(testPatient)

	_, err := s.Submit(context.Background(), d)
	if !errors.Is(err, ErrEmptyMedicationList) {
		t.Fatalf("expected ErrEmptyMedicationList, got %v", err)
	}
	if len(creator.calls) != 0 {
		t.Error("no remote call may be issued when validation fails")
	}
}

func TestSubmitChecksPatientBeforeLines(t *testing.T) {
	s := NewSubmitter(&mockCreator{}, zerolog.Nop())
	// Both preconditions fail; the patient check comes first.
	_, err := s.Submit(context.Background(), NewDraft())
	if !errors.Is(err, ErrMissingPatient) {
		t.Fatalf("expected ErrMissingPatient, got %v", err)
	}
}

func TestSubmitSuccess(t *testing.T) {
	creator := &mockCreator{}
	s := NewSubmitter(creator, zerolog.Nop())
	d := composedDraft()

	created, err := s.Submit(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID != "RX-123" {
		t.Errorf("expected server-assigned id, got %q", created.ID)
	}

	if len(creator.calls) != 1 {
		t.Fatalf("expected exactly one create call, got %d", len(creator.calls))
	}
	req := creator.calls[0]
	if len(req.Medicines) != 1 {
		t.Fatalf("payload line count %d does not match draft line count 1", len(req.Medicines))
	}
	if req.Medicines[0].Frequency != "tid" || req.Medicines[0].DurationInDays != 5 {
		t.Errorf("payload line lost edits: %+v", req.Medicines[0])
	}
	if req.PatientID != "P001" {
		t.Errorf("expected patient P001 in payload, got %q", req.PatientID)
	}

	// The draft held by the UI afterward is empty.
	if d.Patient() != nil || d.LineCount() != 0 {
		t.Error("draft must be reset after successful submission")
	}
}

func TestSubmitApplicationFailureKeepsDraft(t *testing.T) {
	creator := &mockCreator{err: &rejectionError{msg: "Duplicate prescription"}}
	s := NewSubmitter(creator, zerolog.Nop())
	d := composedDraft()

	_, err := s.Submit(context.Background(), d)
	var subErr *SubmitError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected *SubmitError, got %v", err)
	}
	if subErr.Message != "Duplicate prescription" {
		t.Errorf("server message must be surfaced verbatim, got %q", subErr.Message)
	}

	if d.Patient() == nil || d.Patient().ID != "P001" || d.LineCount() != 1 {
		t.Error("draft must be preserved after an application failure")
	}
}

func TestSubmitTransportFailureKeepsDraft(t *testing.T) {
	transportErr := fmt.Errorf("connection refused")
	creator := &mockCreator{err: transportErr}
	s := NewSubmitter(creator, zerolog.Nop())
	d := composedDraft()

	_, err := s.Submit(context.Background(), d)
	if !errors.Is(err, transportErr) {
		t.Fatalf("transport errors must pass through, got %v", err)
	}
	if d.Patient() == nil || d.LineCount() != 1 {
		t.Error("draft must be preserved after a transport failure")
	}
}

func TestSubmitFollowUpDateNormalization(t *testing.T) {
	creator := &mockCreator{}
	s := NewSubmitter(creator, zerolog.Nop())

	d := composedDraft()
	follow := time.Date(2025, 7, 1, 10, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))
	d.SetFollowUpDate(&follow)

	if _, err := s.Submit(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := creator.calls[0].FollowUpDate; got != "2025-07-01T05:00:00Z" {
		t.Errorf("expected RFC 3339 UTC follow-up, got %q", got)
	}

	// Absent date is omitted, not sent as zero.
	d2 := composedDraft()
	if _, err := s.Submit(context.Background(), d2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creator.calls[1].FollowUpDate != "" {
		t.Errorf("expected omitted follow-up, got %q", creator.calls[1].FollowUpDate)
	}
}

func TestSubmitFreshClientRefPerAttempt(t *testing.T) {
	creator := &mockCreator{err: &rejectionError{msg: "Duplicate prescription"}}
	s := NewSubmitter(creator, zerolog.Nop())
	d := composedDraft()

	s.Submit(context.Background(), d)
	creator.err = nil
	s.Submit(context.Background(), d)

	if len(creator.calls) != 2 {
		t.Fatalf("expected two create calls, got %d", len(creator.calls))
	}
	if creator.calls[0].ClientRef == "" || creator.calls[0].ClientRef == creator.calls[1].ClientRef {
		t.Error("each submission attempt must carry a fresh client reference")
	}
}

func TestBusyFlagDuringSubmission(t *testing.T) {
	release := make(chan struct{})
	creator := &mockCreator{blocking: release}
	s := NewSubmitter(creator, zerolog.Nop())
	d := composedDraft()

	done := make(chan struct{})
	go func() {
		s.Submit(context.Background(), d)
		close(done)
	}()

	// Wait until the call is in flight.
	deadline := time.Now().Add(time.Second)
	for !s.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("busy flag never set")
		}
		time.Sleep(time.Millisecond)
	}

	close(release)
	<-done
	if s.Busy() {
		t.Error("busy flag must clear after the submission returns")
	}
}
