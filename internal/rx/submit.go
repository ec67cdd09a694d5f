package rx

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Validation errors raised before any remote call is made.
var (
	ErrMissingPatient      = errors.New("no patient selected")
	ErrEmptyMedicationList = errors.New("prescription has no medication lines")
)

// SubmitError is an application-level rejection reported by the
// server (success=false). Message carries the server text verbatim.
type SubmitError struct {
	Message string
}

func (e *SubmitError) Error() string {
	return e.Message
}

// serverMessenger is satisfied by API client errors that carry an
// application-level message from the response envelope.
type serverMessenger interface {
	ServerMessage() string
}

// PrescriptionCreator issues the remote create call.
type PrescriptionCreator interface {
	CreatePrescription(ctx context.Context, req *CreatePrescriptionRequest) (*Prescription, error)
}

// Submitter gates the transition from draft to submitted
// prescription: local validation, serialization, one create call, and
// interpretation of the outcome. It never retries; resubmission is an
// explicit caller action that re-runs the whole sequence.
type Submitter struct {
	creator PrescriptionCreator
	logger  zerolog.Logger
	busy    atomic.Bool
}

func NewSubmitter(creator PrescriptionCreator, logger zerolog.Logger) *Submitter {
	return &Submitter{creator: creator, logger: logger}
}

// Busy reports whether a submission is in flight. Advisory only: it
// lets a caller disable re-submission but does not enforce exclusion.
func (s *Submitter) Busy() bool {
	return s.busy.Load()
}

// Submit validates the draft, serializes it, and issues the create
// call. On success the draft is reset to empty and the created
// prescription is returned. On any failure the draft is left intact
// so the operator can correct and resubmit:
//
//   - ErrMissingPatient / ErrEmptyMedicationList: local, no remote call
//   - *SubmitError: server rejected the submission (message verbatim)
//   - anything else: transport or session failure, passed through
func (s *Submitter) Submit(ctx context.Context, d *Draft) (*Prescription, error) {
	if d.Patient() == nil {
		return nil, ErrMissingPatient
	}
	if d.LineCount() == 0 {
		return nil, ErrEmptyMedicationList
	}

	s.busy.Store(true)
	defer s.busy.Store(false)

	req := serialize(d)
	created, err := s.creator.CreatePrescription(ctx, req)
	if err != nil {
		var sm serverMessenger
		if errors.As(err, &sm) {
			s.logger.Info().Str("reason", sm.ServerMessage()).Msg("prescription rejected by server")
			return nil, &SubmitError{Message: sm.ServerMessage()}
		}
		s.logger.Error().Err(err).Msg("prescription submission failed")
		return nil, err
	}

	s.logger.Info().Str("prescription_id", created.ID).Int("lines", len(req.Medicines)).Msg("prescription created")
	d.Reset()
	return created, nil
}

// serialize builds the wire payload. The follow-up date is normalized
// to RFC 3339 or omitted when absent. Each attempt gets a fresh
// ClientRef: a resubmission after failure is a new logical request.
func serialize(d *Draft) *CreatePrescriptionRequest {
	req := &CreatePrescriptionRequest{
		PatientID:       d.Patient().ID,
		ChiefComplaints: d.ChiefComplaints(),
		FindingsOnExam:  d.FindingsOnExam(),
		Advice:          d.Advice(),
		ClientRef:       uuid.NewString(),
		Medicines:       d.Lines(),
	}
	if t := d.FollowUpDate(); t != nil {
		req.FollowUpDate = t.UTC().Format(time.RFC3339)
	}
	return req
}
