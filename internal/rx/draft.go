package rx

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Defaults seeded into a new medication line. They exist to reduce
// clicks and carry no clinical authority.
const (
	DefaultRoute           = "oral"
	DefaultForm            = "tablet"
	DefaultQuantityPerDose = 1
	DefaultFrequency       = "od"
	DefaultDurationDays    = 7
)

// frequencyLabels maps frequency codes to the phrasing used in
// generated instructions. Unknown codes fall back to the code itself.
var frequencyLabels = map[string]string{
	"od":  "once daily",
	"bid": "twice daily",
	"tid": "three times daily",
	"qid": "four times daily",
	"prn": "as needed",
}

// dosesPerDay maps frequency codes to administrations per day, used
// for the generated total-quantity label. "prn" is counted as one.
var dosesPerDay = map[string]int{
	"od":  1,
	"bid": 2,
	"tid": 3,
	"qid": 4,
	"prn": 1,
}

// Draft is the in-progress prescription composition. It is owned by a
// single interaction flow; all operations are synchronous and mutate
// the draft in place. There is no undo stack and the draft is never
// persisted locally.
type Draft struct {
	patient         *Patient
	chiefComplaints string
	findingsOnExam  string
	advice          string
	followUpDate    *time.Time
	lines           []MedicationLine
}

func NewDraft() *Draft {
	return &Draft{}
}

// SelectPatient sets the draft's patient reference. A draft references
// at most one patient; selecting replaces any previous selection.
func (d *Draft) SelectPatient(p Patient) {
	d.patient = &p
}

// ClearPatient unsets the patient reference.
func (d *Draft) ClearPatient() {
	d.patient = nil
}

// Patient returns the currently selected patient, or nil.
func (d *Draft) Patient() *Patient {
	return d.patient
}

// AddLine appends a new medication line seeded with defaults and a
// generated instruction and total-quantity label, and returns it.
func (d *Draft) AddLine(m Medicine) MedicationLine {
	line := MedicationLine{
		Key:             uuid.New(),
		MedicineID:      m.ID,
		Name:            m.BrandName,
		GenericName:     m.GenericName,
		Route:           DefaultRoute,
		Form:            DefaultForm,
		QuantityPerDose: DefaultQuantityPerDose,
		Frequency:       DefaultFrequency,
		DurationInDays:  DefaultDurationDays,
	}
	line.FullInstruction = buildInstruction(line)
	line.TotalQuantity = buildTotalQuantity(line)
	d.lines = append(d.lines, line)
	return line
}

// LineUpdate carries the fields to replace on a medication line. Nil
// fields are left untouched.
type LineUpdate struct {
	Route           *string
	Form            *string
	QuantityPerDose *int
	Frequency       *string
	DurationInDays  *int
	FullInstruction *string
	TotalQuantity   *string
}

// UpdateLine replaces the set fields of the line with the given key.
// It reports whether a line was found; an unknown key is a no-op.
func (d *Draft) UpdateLine(key uuid.UUID, upd LineUpdate) bool {
	for i := range d.lines {
		if d.lines[i].Key != key {
			continue
		}
		l := &d.lines[i]
		if upd.Route != nil {
			l.Route = *upd.Route
		}
		if upd.Form != nil {
			l.Form = *upd.Form
		}
		if upd.QuantityPerDose != nil {
			l.QuantityPerDose = *upd.QuantityPerDose
		}
		if upd.Frequency != nil {
			l.Frequency = *upd.Frequency
		}
		if upd.DurationInDays != nil {
			l.DurationInDays = *upd.DurationInDays
		}
		if upd.FullInstruction != nil {
			l.FullInstruction = *upd.FullInstruction
		}
		if upd.TotalQuantity != nil {
			l.TotalQuantity = *upd.TotalQuantity
		}
		return true
	}
	return false
}

// RemoveLine removes the line with the given key. It reports whether a
// line was removed; an unknown key is a no-op.
func (d *Draft) RemoveLine(key uuid.UUID) bool {
	for i := range d.lines {
		if d.lines[i].Key == key {
			d.lines = append(d.lines[:i], d.lines[i+1:]...)
			return true
		}
	}
	return false
}

// Lines returns a snapshot of the medication lines in order.
func (d *Draft) Lines() []MedicationLine {
	out := make([]MedicationLine, len(d.lines))
	copy(out, d.lines)
	return out
}

func (d *Draft) LineCount() int {
	return len(d.lines)
}

func (d *Draft) SetChiefComplaints(v string) { d.chiefComplaints = v }
func (d *Draft) SetFindingsOnExam(v string)  { d.findingsOnExam = v }
func (d *Draft) SetAdvice(v string)          { d.advice = v }

func (d *Draft) ChiefComplaints() string { return d.chiefComplaints }
func (d *Draft) FindingsOnExam() string  { return d.findingsOnExam }
func (d *Draft) Advice() string          { return d.advice }

// SetFollowUpDate sets the optional follow-up date; nil clears it.
func (d *Draft) SetFollowUpDate(t *time.Time) {
	d.followUpDate = t
}

func (d *Draft) FollowUpDate() *time.Time {
	return d.followUpDate
}

// Reset returns the draft to the empty state: no patient, no lines, no
// clinical text. Called after a successful submission.
func (d *Draft) Reset() {
	*d = Draft{}
}

func buildInstruction(l MedicationLine) string {
	freq := frequencyLabels[l.Frequency]
	if freq == "" {
		freq = l.Frequency
	}
	return fmt.Sprintf("%d %s by %s route, %s, for %d days",
		l.QuantityPerDose, l.Form, l.Route, freq, l.DurationInDays)
}

func buildTotalQuantity(l MedicationLine) string {
	perDay := dosesPerDay[l.Frequency]
	if perDay == 0 {
		perDay = 1
	}
	total := l.QuantityPerDose * perDay * l.DurationInDays
	return fmt.Sprintf("%d %s(s)", total, l.Form)
}
