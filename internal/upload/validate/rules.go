package validate

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

var (
	// 10-digit local mobile, first digit 6-9.
	phonePattern = regexp.MustCompile(`^[6-9][0-9]{9}$`)

	// 6-digit postal code.
	postalCodePattern = regexp.MustCompile(`^[0-9]{6}$`)

	// e.g. KA01AB1234.
	vehicleRegPattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z]{1,2}[0-9]{4}$`)
)

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2006/01/02",
	time.RFC3339,
}

func validPhone(value string) bool {
	return phonePattern.MatchString(value)
}

func validEmail(value string) bool {
	addr, err := mail.ParseAddress(value)
	return err == nil && addr.Address == value
}

func validPostalCode(value string) bool {
	return postalCodePattern.MatchString(value)
}

func validVehicleRegistration(value string) bool {
	return vehicleRegPattern.MatchString(strings.ToUpper(value))
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", raw)
}

func parseBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "yes", "y", "true":
		return true, true
	case "", "0", "no", "n", "false":
		return false, true
	}
	return false, false
}

// ageAt returns full years between dob and now.
func ageAt(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	anniversary := dob.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	return years
}

// normalizeKey canonicalizes a value for duplicate detection.
func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
