package model

import (
	"time"

	"github.com/tillbridge/tillbridge/internal/syncx"
)

// Backfill payload sentinels stored in Checkpoint.Payload for the
// transactions entity. ProcessedDatePrefix is followed by the last fully
// processed calendar day (YYYY-MM-DD); BackfillCompleted marks the whole
// history as covered, which lets the incremental pass narrow its default
// window.
const (
	ProcessedDatePrefix = "ProcessedDate:"
	BackfillCompleted   = "COMPLETED"
)

// Checkpoint is the durable cursor state for one (device, entity) pair.
// LastSyncTime/LastRecordID form the keyset position the next pass resumes
// from; Payload is opaque free-form state owned by whoever wrote it.
type Checkpoint struct {
	ID              int64
	DeviceID        string
	EntityType      string
	LastSyncTime    time.Time
	LastRecordID    int64
	LastDeleteCheck *time.Time
	Payload         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Marker returns the checkpoint's position as a change-stream marker.
func (c *Checkpoint) Marker() syncx.Marker {
	return syncx.Marker{Time: c.LastSyncTime.UTC(), ID: c.LastRecordID}
}

// BackfillDone reports whether the bulk backfill recorded full coverage.
func (c *Checkpoint) BackfillDone() bool {
	return c != nil && c.Payload == BackfillCompleted
}

// ProcessedDatePayload renders the backfill resume payload for a window end.
func ProcessedDatePayload(t time.Time) string {
	return ProcessedDatePrefix + t.UTC().Format("2006-01-02")
}

// ParseProcessedDate extracts the resume day from a backfill payload.
// Returns false for the empty payload, the completion sentinel, or garbage.
func ParseProcessedDate(payload string) (time.Time, bool) {
	if len(payload) <= len(ProcessedDatePrefix) || payload[:len(ProcessedDatePrefix)] != ProcessedDatePrefix {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", payload[len(ProcessedDatePrefix):])
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
