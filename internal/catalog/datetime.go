package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/robert-malhotra/burnmap/internal/apperr"
)

// DateLayout is the calendar date format accepted for run windows.
const DateLayout = "2006-01-02"

// DefaultOffsetDays widens the requested window on both sides.
const DefaultOffsetDays = 10

// STAC time formats observed in catalog responses.
var stacTimeFormats = []string{
	time.RFC3339Nano,              // "2006-01-02T15:04:05.999999999Z07:00"
	time.RFC3339,                  // "2006-01-02T15:04:05Z07:00"
	"2006-01-02T15:04:05.999999Z", // UTC with microseconds
	"2006-01-02T15:04:05.999999",  // Without timezone
	"2006-01-02T15:04:05",
}

// ErrInvalidDate is returned for dates that are not YYYY-MM-DD or for
// windows that end before they start.
var ErrInvalidDate = fmt.Errorf("%w: invalid date", apperr.ErrValidation)

// ParseTime parses a STAC timestamp into UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	var lastErr error
	for _, format := range stacTimeFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, lastErr)
}

// ParseDate parses a YYYY-MM-DD calendar date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q, expected YYYY-MM-DD", ErrInvalidDate, s)
	}
	return t, nil
}

// ValidateWindow checks that end is not before start.
func ValidateWindow(start, end time.Time) error {
	if end.Before(start) {
		return fmt.Errorf("%w: end %s is before start %s",
			ErrInvalidDate, end.Format(DateLayout), start.Format(DateLayout))
	}
	return nil
}

// ExpandWindow widens [start, end] by offsetDays on both sides.
func ExpandWindow(start, end time.Time, offsetDays int) (time.Time, time.Time) {
	return start.AddDate(0, 0, -offsetDays), end.AddDate(0, 0, offsetDays)
}

// StartOfDay returns 00:00:00.000000 UTC of t's calendar date.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns 23:59:59.999999 UTC of t's calendar date.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 999999000, time.UTC)
}

// FormatInterval formats a closed STAC datetime interval covering the
// calendar days start through end.
func FormatInterval(start, end time.Time) string {
	return StartOfDay(start).Format(time.RFC3339) + "/" + EndOfDay(end).Format(time.RFC3339Nano)
}
