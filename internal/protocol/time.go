package protocol

import (
	"fmt"
	"time"
)

// naiveISOLayout is accepted for timestamps without a zone and read as UTC.
const naiveISOLayout = "2006-01-02T15:04:05"

// FormatTime renders t as RFC 3339 in UTC with second precision.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// Now returns the current time in wire format.
func Now() string {
	return FormatTime(time.Now())
}

// ParseTime reads an RFC 3339 timestamp ("Z" or numeric offset).
// A timestamp without a zone is taken to be UTC.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(naiveISOLayout, s, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q is not an RFC 3339 timestamp", ErrBadRequest, s)
}
