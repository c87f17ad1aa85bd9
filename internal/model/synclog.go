package model

import "time"

// SyncLog is the per-pass outcome record inserted (never upserted) into the
// `sync_logs` collection after every pass, successful or not.
type SyncLog struct {
	RunID          string    `bson:"runId"`
	DeviceID       string    `bson:"deviceId"`
	EntityType     string    `bson:"entityType"`
	LastSyncTime   time.Time `bson:"lastSyncTime"`
	IsSuccess      bool      `bson:"isSuccess"`
	RecordsSynced  int       `bson:"recordsSynced"`
	RecordsDeleted int       `bson:"recordsDeleted"`
	DurationMs     int64     `bson:"durationMs"`
	ErrorMessage   string    `bson:"errorMessage,omitempty"`
	LoggedAt       time.Time `bson:"loggedAt"`
}

// SyncResult is the in-process outcome of one entity pass.
type SyncResult struct {
	Entity       string
	RunID        string
	Synced       int
	Deleted      int
	Failed       int
	LastSyncTime time.Time
	Duration     time.Duration
	Success      bool
	ErrorMessage string
}

// Log converts the result into its sync-log document.
func (r SyncResult) Log(deviceID string, at time.Time) SyncLog {
	return SyncLog{
		RunID:          r.RunID,
		DeviceID:       deviceID,
		EntityType:     r.Entity,
		LastSyncTime:   r.LastSyncTime,
		IsSuccess:      r.Success,
		RecordsSynced:  r.Synced,
		RecordsDeleted: r.Deleted,
		DurationMs:     r.Duration.Milliseconds(),
		ErrorMessage:   r.ErrorMessage,
		LoggedAt:       at.UTC(),
	}
}
