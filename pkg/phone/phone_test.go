package phone

import (
	"errors"
	"testing"
)

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+15550001234", "+15550001234"},
		{"+1 555-000-1234", "+15550001234"},
		{" +447911123456 ", "+447911123456"},
	}

	for _, tc := range cases {
		got, err := NormalizeE164(tc.in)
		if err != nil {
			t.Fatalf("NormalizeE164(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("NormalizeE164(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeE164Rejects(t *testing.T) {
	for _, in := range []string{"", "5550001234", "+1", "not a number"} {
		if _, err := NormalizeE164(in); !errors.Is(err, ErrInvalidNumber) {
			t.Errorf("NormalizeE164(%q): expected ErrInvalidNumber, got %v", in, err)
		}
	}
}
