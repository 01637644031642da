package duration

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatTotal renders seconds as HH:MM:SS. Hours are not capped at 24.
func FormatTotal(seconds int64) string {
	sign := ""
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, s)
}

// ParseTotal decodes the HH:MM:SS form produced by FormatTotal. Hours take
// two or more digits; minutes and seconds exactly two, each below 60.
func ParseTotal(value string) (int64, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, validationf("total %q is not HH:MM:SS", value)
	}

	h, err := parseField(parts[0], 2, -1)
	if err != nil {
		return 0, validationf("total %q hours: %v", value, err)
	}
	m, err := parseField(parts[1], 2, 59)
	if err != nil {
		return 0, validationf("total %q minutes: %v", value, err)
	}
	s, err := parseField(parts[2], 2, 59)
	if err != nil {
		return 0, validationf("total %q seconds: %v", value, err)
	}

	return h*3600 + m*60 + s, nil
}

// parseField parses an all-digit field of at least minDigits digits
// (exactly minDigits when max is non-negative) not above max.
func parseField(field string, minDigits int, max int64) (int64, error) {
	if len(field) < minDigits || (max >= 0 && len(field) != minDigits) {
		return 0, fmt.Errorf("bad width %d", len(field))
	}
	for _, r := range field {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-digit %q", r)
		}
	}
	n, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return 0, err
	}
	if max >= 0 && n > max {
		return 0, fmt.Errorf("%d out of range", n)
	}
	return n, nil
}
