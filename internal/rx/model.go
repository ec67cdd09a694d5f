package rx

import (
	"time"

	"github.com/google/uuid"
)

// Patient is a patient summary as returned by the directory search.
// Immutable once fetched; the draft references it by identifier.
type Patient struct {
	ID          string `json:"id"`
	FullName    string `json:"fullName"`
	DateOfBirth string `json:"dateOfBirth"`
}

// Medicine is a catalog entry from the medicine directory.
type Medicine struct {
	ID          string `json:"id"`
	BrandName   string `json:"brandName"`
	GenericName string `json:"genericName"`
}

// MedicationLine is one prescribed medicine within a draft. Key is a
// client-generated identifier assigned at creation time; update and
// remove operations address lines by Key, never by list position.
type MedicationLine struct {
	Key             uuid.UUID `json:"-"`
	MedicineID      string    `json:"medicineId"`
	Name            string    `json:"name"`
	GenericName     string    `json:"genericName"`
	Route           string    `json:"route"`
	Form            string    `json:"form"`
	QuantityPerDose int       `json:"quantityPerDose"`
	Frequency       string    `json:"frequency"`
	DurationInDays  int       `json:"durationInDays"`
	FullInstruction string    `json:"fullInstruction"`
	TotalQuantity   string    `json:"totalQuantity"`
}

// CreatePrescriptionRequest is the wire payload of the create call.
// FollowUpDate carries an RFC 3339 timestamp or is omitted entirely.
// ClientRef is a fresh identifier per submission attempt; the server
// may use it for tracing but the client makes no de-duplication
// guarantee with it.
type CreatePrescriptionRequest struct {
	PatientID       string           `json:"patientId"`
	ChiefComplaints string           `json:"chiefComplaints"`
	FindingsOnExam  string           `json:"findingsOnExam"`
	Advice          string           `json:"advice"`
	FollowUpDate    string           `json:"followUpDate,omitempty"`
	ClientRef       string           `json:"clientRef,omitempty"`
	Medicines       []MedicationLine `json:"medicines"`
}

// Prescription is the server-owned record returned after submission.
// Read-only from the client's perspective.
type Prescription struct {
	ID              string           `json:"id"`
	PatientID       string           `json:"patientId"`
	Patient         Patient          `json:"patient"`
	ChiefComplaints string           `json:"chiefComplaints"`
	FindingsOnExam  string           `json:"findingsOnExam"`
	Advice          string           `json:"advice"`
	FollowUpDate    *time.Time       `json:"followUpDate,omitempty"`
	Medicines       []MedicationLine `json:"medicines"`
	Status          string           `json:"status"`
	CreatedAt       time.Time        `json:"createdAt"`
}
