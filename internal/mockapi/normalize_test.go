package mockapi

import "testing"

func TestFold(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Paracétamol", "paracetamol"},
		{"AMOXICILLIN", "amoxicillin"},
		{"Ibuprofène", "ibuprofene"},
		{"plain", "plain"},
	}
	for _, tc := range cases {
		if got := fold(tc.in); got != tc.want {
			t.Errorf("fold(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMatches(t *testing.T) {
	if !matches("amo", "Amoxil", "Amoxicillin") {
		t.Error("expected substring match on brand name")
	}
	if !matches("paracet", "Doliprane", "Paracétamol") {
		t.Error("expected accent-insensitive match on generic name")
	}
	if matches("", "Amoxil") {
		t.Error("empty query must not match")
	}
	if matches("zzz", "Amoxil", "Amoxicillin") {
		t.Error("unexpected match")
	}
}
