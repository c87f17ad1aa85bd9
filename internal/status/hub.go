package status

import (
	"fmt"
	"sync"
	"time"
)

// ServerState is the coarse process state shown to operators.
type ServerState string

// Server states.
const (
	ServerStopped ServerState = "Stopped"
	ServerRunning ServerState = "Running"
	ServerError   ServerState = "Error"
)

// ConnState describes one endpoint's reachability.
type ConnState string

// Connection states.
const (
	ConnNotInitialized ConnState = "NotInitialized"
	ConnConnected      ConnState = "Connected"
	ConnDisconnected   ConnState = "Disconnected"
	ConnError          ConnState = "Error"
)

// Snapshot is the operator-facing view at one instant. The UI renders it as
// is; presentation concerns like colors stay out of this package.
type Snapshot struct {
	Server          ServerState `json:"serverStatus"`
	Source          ConnState   `json:"connectionStatus"`
	Target          ConnState   `json:"targetStatus"`
	IsSyncing       bool        `json:"isSyncing"`
	IsBulkSyncing   bool        `json:"isBulkSyncing"`
	AutoSyncEnabled bool        `json:"autoSyncEnabled"`
	BulkProgress    string      `json:"bulkSyncProgress"`
	LastSyncAt      *time.Time  `json:"lastSyncAt,omitempty"`
	DeviceID        string      `json:"deviceId"`
}

// Entry is one operator log line. The UI colors lines by their ERROR:,
// WARNING: and SUCCESS: prefixes.
type Entry struct {
	At   time.Time `json:"at"`
	Line string    `json:"line"`
}

// ringCap bounds the log ring; the oldest entry drops first.
const ringCap = 100

// Hub is the single cross-goroutine mutable structure of the service: a
// snapshot plus a bounded append-only log ring, both mutex-guarded. No lock
// is ever held across I/O.
type Hub struct {
	mu   sync.Mutex
	snap Snapshot
	ring []Entry
}

// NewHub creates a Hub in the initial Stopped/NotInitialized state.
func NewHub(deviceID string) *Hub {
	return &Hub{
		snap: Snapshot{
			Server:   ServerStopped,
			Source:   ConnNotInitialized,
			Target:   ConnNotInitialized,
			DeviceID: deviceID,
		},
	}
}

// Snapshot returns a copy of the current status.
func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

// Lines returns a copy of the log ring, oldest first.
func (h *Hub) Lines() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.ring))
	copy(out, h.ring)
	return out
}

// Logf appends one line to the ring, dropping the oldest when full.
func (h *Hub) Logf(format string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ring) == ringCap {
		copy(h.ring, h.ring[1:])
		h.ring = h.ring[:ringCap-1]
	}
	h.ring = append(h.ring, Entry{At: time.Now().UTC(), Line: fmt.Sprintf(format, args...)})
}

// Errorf logs a line the UI renders as an error.
func (h *Hub) Errorf(format string, args ...any) {
	h.Logf("ERROR: "+format, args...)
}

// Warnf logs a line the UI renders as a warning.
func (h *Hub) Warnf(format string, args ...any) {
	h.Logf("WARNING: "+format, args...)
}

// Successf logs a line the UI renders as a success.
func (h *Hub) Successf(format string, args ...any) {
	h.Logf("SUCCESS: "+format, args...)
}

// SetServer publishes the process state.
func (h *Hub) SetServer(s ServerState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.Server = s
}

// SetSource publishes source database reachability.
func (h *Hub) SetSource(s ConnState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.Source = s
}

// SetTarget publishes target store reachability.
func (h *Hub) SetTarget(s ConnState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.Target = s
}

// SetAutoSync publishes the scheduler toggle.
func (h *Hub) SetAutoSync(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.AutoSyncEnabled = enabled
}

// SetBulkProgress publishes the free-form backfill progress string.
func (h *Hub) SetBulkProgress(p string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.BulkProgress = p
}

// TryBeginPass marks an incremental pass as running. It fails when a pass or
// a backfill already holds the slot; passes never queue.
func (h *Hub) TryBeginPass() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.snap.IsSyncing || h.snap.IsBulkSyncing {
		return false
	}
	h.snap.IsSyncing = true
	return true
}

// EndPass releases the pass slot and records the completion time.
func (h *Hub) EndPass() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.IsSyncing = false
	now := time.Now().UTC()
	h.snap.LastSyncAt = &now
}

// TryBeginBulk marks the bulk backfill as running, under the same mutual
// exclusion as incremental passes.
func (h *Hub) TryBeginBulk() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.snap.IsSyncing || h.snap.IsBulkSyncing {
		return false
	}
	h.snap.IsBulkSyncing = true
	return true
}

// EndBulk releases the backfill slot.
func (h *Hub) EndBulk() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.IsBulkSyncing = false
	h.snap.BulkProgress = ""
}
