package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/irfank123/CareSync-sub002/internal/platform/apperr"
)

const (
	dateLayout    = "2006-01-02"
	minutesPerDay = 24 * 60
)

// TimeToMinutes parses an H:MM or HH:MM string into minutes since midnight.
// Each component must be one or two decimal digits with 0<=h<=23 and 0<=m<=59.
func TimeToMinutes(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, apperr.Validation("invalid time %q: expected HH:MM", s)
	}
	h, ok := parseComponent(parts[0])
	if !ok || h > 23 {
		return 0, apperr.Validation("invalid time %q: hour must be 0-23", s)
	}
	m, ok := parseComponent(parts[1])
	if !ok || m > 59 {
		return 0, apperr.Validation("invalid time %q: minute must be 0-59", s)
	}
	return 60*h + m, nil
}

// parseComponent accepts one or two ASCII digits and nothing else.
func parseComponent(p string) (int, bool) {
	if len(p) == 0 || len(p) > 2 {
		return 0, false
	}
	n := 0
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// MinutesToTime is the inverse of TimeToMinutes.
func MinutesToTime(minutes int) (string, error) {
	if minutes < 0 || minutes >= minutesPerDay {
		return "", apperr.Validation("minute of day %d out of range", minutes)
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60), nil
}

// NormalizeTime rewrites "9:5" style input as "09:05".
func NormalizeTime(s string) (string, error) {
	m, err := TimeToMinutes(s)
	if err != nil {
		return "", err
	}
	return MinutesToTime(m)
}

// ParseDate accepts only YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, apperr.Validation("invalid date %q: expected YYYY-MM-DD", s)
	}
	return d, nil
}

// AddDays shifts a YYYY-MM-DD date by n days.
func AddDays(date string, n int) (string, error) {
	d, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return d.AddDate(0, 0, n).Format(dateLayout), nil
}

// interval validates and normalizes a start/end pair.
func interval(start, end string) (s, e int, err error) {
	if s, err = TimeToMinutes(start); err != nil {
		return 0, 0, err
	}
	if e, err = TimeToMinutes(end); err != nil {
		return 0, 0, err
	}
	if s >= e {
		return 0, 0, apperr.Validation("start time %s must be before end time %s", start, end)
	}
	return s, e, nil
}
