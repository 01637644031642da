package names

import "testing"

func TestMatchKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Jane99", "jane"},
		{"Jane Doe", "janedoe"},
		{"  J.A.N.E-42 ", "jane"},
		{"Ömer 7", "ömer"},
		{"1234", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := MatchKey(tt.in); got != tt.want {
			t.Errorf("MatchKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchKeyIdempotent(t *testing.T) {
	for _, in := range []string{"Jane99", "Jane Doe", "a-b_c d", "ÉLODIE 3", "x"} {
		once := MatchKey(in)
		if twice := MatchKey(once); twice != once {
			t.Errorf("MatchKey not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestStripDigits(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Jane99", "Jane"},
		{"Jane 99 Doe", "Jane  Doe"},
		{"O'Brien-2", "O'Brien-"},
		{"NoDigits", "NoDigits"},
	}

	for _, tt := range tests {
		if got := StripDigits(tt.in); got != tt.want {
			t.Errorf("StripDigits(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStoredNameMatchesDetection(t *testing.T) {
	stored := StripDigits("Jane99")
	if stored != "Jane" {
		t.Fatalf("expected stored name Jane, got %q", stored)
	}
	if Fold(stored) != MatchKey("Jane99") {
		t.Fatalf("expected %q to match %q", Fold(stored), MatchKey("Jane99"))
	}
	if Fold("Jane Doe") != MatchKey("jane doe 7") {
		t.Fatalf("expected spaced name to match")
	}
}
