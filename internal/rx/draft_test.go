package rx

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

var (
	testPatient  = Patient{ID: "P001", FullName: "John Smith", DateOfBirth: "1986-03-12"}
	testMedicine = Medicine{ID: "M010", BrandName: "Amoxil", GenericName: "Amoxicillin"}
)

func TestSelectPatient(t *testing.T) {
	d := NewDraft()
	if d.Patient() != nil {
		t.Fatal("new draft should have no patient")
	}
	d.SelectPatient(testPatient)
	if d.Patient() == nil || d.Patient().ID != "P001" {
		t.Errorf("expected patient P001, got %+v", d.Patient())
	}

	other := Patient{ID: "P002", FullName: "Sarah Johnson"}
	d.SelectPatient(other)
	if d.Patient().ID != "P002" {
		t.Error("selecting a patient should replace the previous selection")
	}

	d.ClearPatient()
	if d.Patient() != nil {
		t.Error("expected no patient after ClearPatient")
	}
}

func TestAddLineDefaults(t *testing.T) {
	d := NewDraft()
	line := d.AddLine(testMedicine)

	if line.Key == uuid.Nil {
		t.Error("expected a generated line key")
	}
	if line.MedicineID != "M010" || line.Name != "Amoxil" || line.GenericName != "Amoxicillin" {
		t.Errorf("medicine reference not carried over: %+v", line)
	}
	if line.Route != "oral" || line.Form != "tablet" {
		t.Errorf("expected oral/tablet defaults, got %s/%s", line.Route, line.Form)
	}
	if line.QuantityPerDose != 1 || line.Frequency != "od" || line.DurationInDays != 7 {
		t.Errorf("unexpected dosing defaults: %+v", line)
	}
	if line.FullInstruction != "1 tablet by oral route, once daily, for 7 days" {
		t.Errorf("unexpected instruction: %q", line.FullInstruction)
	}
	if line.TotalQuantity != "7 tablet(s)" {
		t.Errorf("unexpected total quantity: %q", line.TotalQuantity)
	}
	if d.LineCount() != 1 {
		t.Errorf("expected 1 line, got %d", d.LineCount())
	}
}

func TestUpdateLine(t *testing.T) {
	d := NewDraft()
	line := d.AddLine(testMedicine)

	freq := "tid"
	days := 5
	if !d.UpdateLine(line.Key, LineUpdate{Frequency: &freq, DurationInDays: &days}) {
		t.Fatal("expected update to find the line")
	}

	got := d.Lines()[0]
	if got.Frequency != "tid" || got.DurationInDays != 5 {
		t.Errorf("update not applied: %+v", got)
	}
	// Untouched fields keep their values.
	if got.Route != "oral" || got.QuantityPerDose != 1 {
		t.Errorf("unset fields were modified: %+v", got)
	}
}

func TestUpdateLineUnknownKeyIsNoOp(t *testing.T) {
	d := NewDraft()
	d.AddLine(testMedicine)
	before := d.Lines()

	freq := "qid"
	if d.UpdateLine(uuid.New(), LineUpdate{Frequency: &freq}) {
		t.Error("expected update with unknown key to report false")
	}
	after := d.Lines()
	if after[0] != before[0] {
		t.Error("no-op update must not modify any line")
	}
}

func TestRemoveLine(t *testing.T) {
	d := NewDraft()
	first := d.AddLine(testMedicine)
	second := d.AddLine(Medicine{ID: "M002", BrandName: "Metformin", GenericName: "Metformin HCl"})
	third := d.AddLine(Medicine{ID: "M004", BrandName: "Lipitor", GenericName: "Atorvastatin"})

	if !d.RemoveLine(second.Key) {
		t.Fatal("expected removal to find the line")
	}
	lines := d.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	// Remaining lines keep their order and identity.
	if lines[0].Key != first.Key || lines[1].Key != third.Key {
		t.Error("remaining lines lost order or identity after removal")
	}

	if d.RemoveLine(second.Key) {
		t.Error("removing an already-removed key should be a no-op")
	}
}

func TestRemoveThenReAddRestoresCount(t *testing.T) {
	d := NewDraft()
	d.AddLine(testMedicine)
	removed := d.AddLine(Medicine{ID: "M002", BrandName: "Metformin", GenericName: "Metformin HCl"})
	original := d.LineCount()

	d.RemoveLine(removed.Key)
	readded := d.AddLine(Medicine{ID: "M002", BrandName: "Metformin", GenericName: "Metformin HCl"})

	if d.LineCount() != original {
		t.Errorf("expected count %d after re-add, got %d", original, d.LineCount())
	}
	// The re-added line is a new line, not the old one resurrected.
	if readded.Key == removed.Key {
		t.Error("re-added line must get a fresh key")
	}
}

func TestClinicalFields(t *testing.T) {
	d := NewDraft()
	d.SetChiefComplaints("persistent cough")
	d.SetFindingsOnExam("mild wheezing")
	d.SetAdvice("rest and fluids")

	if d.ChiefComplaints() != "persistent cough" || d.FindingsOnExam() != "mild wheezing" || d.Advice() != "rest and fluids" {
		t.Error("clinical fields not stored")
	}

	follow := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	d.SetFollowUpDate(&follow)
	if d.FollowUpDate() == nil || !d.FollowUpDate().Equal(follow) {
		t.Error("follow-up date not stored")
	}
	d.SetFollowUpDate(nil)
	if d.FollowUpDate() != nil {
		t.Error("expected follow-up date cleared")
	}
}

func TestReset(t *testing.T) {
	d := NewDraft()
	d.SelectPatient(testPatient)
	d.AddLine(testMedicine)
	d.SetChiefComplaints("fever")
	follow := time.Now()
	d.SetFollowUpDate(&follow)

	d.Reset()

	if d.Patient() != nil || d.LineCount() != 0 || d.ChiefComplaints() != "" || d.FollowUpDate() != nil {
		t.Error("reset draft should be empty")
	}
}

func TestBuildTotalQuantityPerFrequency(t *testing.T) {
	cases := []struct {
		freq string
		want string
	}{
		{"od", "14 tablet(s)"},
		{"bid", "28 tablet(s)"},
		{"tid", "42 tablet(s)"},
		{"qid", "56 tablet(s)"},
		{"prn", "14 tablet(s)"},
	}
	for _, tc := range cases {
		l := MedicationLine{Form: "tablet", QuantityPerDose: 2, Frequency: tc.freq, DurationInDays: 7}
		if got := buildTotalQuantity(l); got != tc.want {
			t.Errorf("freq %s: expected %q, got %q", tc.freq, tc.want, got)
		}
	}
}
