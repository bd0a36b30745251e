package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalidNumber indicates a number that cannot be normalized to E.164.
var ErrInvalidNumber = errors.New("invalid phone number")

// NormalizeE164 parses a phone number and returns the canonical E.164 form.
// Numbers must already carry a country code prefix; nothing is coerced.
func NormalizeE164(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNumber)
	}
	if trimmed[0] != '+' {
		return "", fmt.Errorf("%w: %q missing + country code", ErrInvalidNumber, raw)
	}

	parsed, err := phonenumbers.Parse(trimmed, "")
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidNumber, raw, err)
	}
	// Possible rather than strictly valid: carriers route test and
	// fictional ranges (555 exchanges) that metadata validation rejects.
	if !phonenumbers.IsPossibleNumber(parsed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
