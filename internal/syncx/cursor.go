package syncx

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Marker is a position in an entity's change stream: the row's modification
// timestamp plus its primary key as a tie-break. Ordering is lexicographic on
// (Time, ID), matching the (marker, id) keyset the extractors page by, so a
// page boundary that falls inside a run of equal timestamps resumes on the
// next row rather than replaying or skipping the run.
type Marker struct {
	Time time.Time // modification marker, UTC
	ID   int64     // primary key of the row that produced Time
}

// IsZero reports whether the marker is the zero position.
func (m Marker) IsZero() bool {
	return m.Time.IsZero() && m.ID == 0
}

// After reports whether m is strictly after o in (Time, ID) order.
func (m Marker) After(o Marker) bool {
	if m.Time.After(o.Time) {
		return true
	}
	return m.Time.Equal(o.Time) && m.ID > o.ID
}

// Equal reports whether both markers name the same position.
func (m Marker) Equal(o Marker) bool {
	return m.Time.Equal(o.Time) && m.ID == o.ID
}

// String renders the marker for logs.
func (m Marker) String() string {
	return fmt.Sprintf("%s/%d", m.Time.UTC().Format(time.RFC3339Nano), m.ID)
}

// EncodeCursor creates the opaque pull-API cursor string.
// Format: base64("<unix_ms>|<id>"). Returns empty string for the zero marker.
func EncodeCursor(m Marker) string {
	if m.IsZero() {
		return ""
	}
	raw := fmt.Sprintf("%d|%d", m.Time.UTC().UnixMilli(), m.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor string.
// Returns the zero marker and false if invalid or empty.
func DecodeCursor(s string) (Marker, bool) {
	if s == "" {
		return Marker{}, false
	}

	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Marker{}, false
	}

	parts := strings.Split(string(b), "|")
	if len(parts) != 2 {
		return Marker{}, false
	}

	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Marker{}, false
	}

	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Marker{}, false
	}

	return Marker{Time: time.UnixMilli(ms).UTC(), ID: id}, true
}
