package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the storage format for calendar dates.
const DateLayout = "2006-01-02"

// ErrInvalidClockTime is returned when a time of day is not a valid HH:mm value.
var ErrInvalidClockTime = errors.New("domain: time must use HH:mm")

// ClockTime is a time of day expressed as minutes since midnight.
type ClockTime int

// MinutesPerDay bounds ClockTime values; 24:00 is accepted as an end of day marker.
const MinutesPerDay = 24 * 60

// ParseClockTime parses a strict HH:mm string.
func ParseClockTime(value string) (ClockTime, error) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) != 5 || trimmed[2] != ':' || !digits(trimmed[:2]) || !digits(trimmed[3:]) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, value)
	}
	hours, err := strconv.Atoi(trimmed[:2])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, value)
	}
	minutes, err := strconv.Atoi(trimmed[3:])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, value)
	}
	if hours < 0 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, value)
	}
	total := hours*60 + minutes
	if total > MinutesPerDay {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, value)
	}
	return ClockTime(total), nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MustClockTime parses value and panics on failure. Intended for constants and tests.
func MustClockTime(value string) ClockTime {
	t, err := ParseClockTime(value)
	if err != nil {
		panic(err)
	}
	return t
}

// String formats the value as HH:mm.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// ClockTimeOf returns the time of day of t in its own location.
func ClockTimeOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

// ParseDate parses a YYYY-MM-DD date in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, strings.TrimSpace(value), loc)
}
