package nosql

import (
	"strings"
	"time"
)

// Micros is a moment in time as microseconds since the Unix epoch, the
// resolution row timestamps are tracked at. Zero means "unset".
type Micros int64

// Now returns the current moment truncated to microseconds.
func Now() Micros {
	return Micros(time.Now().UTC().UnixMicro())
}

// FromTime converts a time.Time to Micros.
func FromTime(t time.Time) Micros {
	return Micros(t.UTC().UnixMicro())
}

// Time converts back to a time.Time in UTC.
func (m Micros) Time() time.Time {
	return time.UnixMicro(int64(m)).UTC()
}

// String renders the canonical wire form: ISO-8601 UTC with microseconds,
// e.g. "2022-03-17T13:28:29.653747Z".
func (m Micros) String() string {
	return m.Time().Format("2006-01-02T15:04:05.000000Z")
}

// ParseMicros accepts ISO-8601 timestamps with or without a fractional
// part or trailing Z, as produced by assorted client SDKs.
func ParseMicros(s string) (Micros, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	layouts := []string{
		"2006-01-02T15:04:05.000000Z",
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return FromTime(t), true
		}
	}
	return 0, false
}
