// Package phone wraps libphonenumber-backed parsing so callers never
// hand-roll E.164 checks.
package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var ErrInvalidNumber = errors.New("phone: invalid e164 number")

// NormalizeE164 parses raw and returns it in canonical E.164 form.
// Numbers without a leading + are rejected rather than guessed against a
// default region; a dialing target must be unambiguous.
func NormalizeE164(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "+") {
		return "", fmt.Errorf("%w: %q has no country prefix", ErrInvalidNumber, raw)
	}
	num, err := phonenumbers.Parse(raw, "")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// RegionCode returns the ISO 3166-1 alpha-2 region for a number already in
// E.164 form ("US", "GB", ...). Empty when the region cannot be determined.
func RegionCode(e164 string) string {
	num, err := phonenumbers.Parse(e164, "")
	if err != nil {
		return ""
	}
	return phonenumbers.GetRegionCodeForNumber(num)
}
