package timeutil

import (
	"time"
)

// RFC3339Millis is RFC 3339 UTC with fixed millisecond precision. Response
// payloads use this layout.
const RFC3339Millis = "2006-01-02T15:04:05.000Z"

// RFC3339Micros is RFC 3339 UTC with fixed microsecond precision. Log
// timestamps use this layout.
const RFC3339Micros = "2006-01-02T15:04:05.000000Z"

// Time is a time.Time that always marshals to JSON as RFC3339Millis in UTC.
// Decoding uses the embedded time.Time, which accepts the same layout.
type Time struct {
	time.Time
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(RFC3339Millis) + `"`), nil
}

// Now returns the current time truncated to millisecond precision.
func Now() Time {
	return Time{Time: time.Now().UTC().Truncate(time.Millisecond)}
}
