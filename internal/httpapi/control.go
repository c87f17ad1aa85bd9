package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/tillbridge/tillbridge/internal/extract"
)

// autoSyncRequest toggles the scheduler. Enabled is a pointer so a missing
// field is distinguishable from false.
type autoSyncRequest struct {
	Enabled *bool `json:"enabled"`
}

// resetRequest clears replication checkpoints. Confirm must be the literal
// string RESET; Entity narrows the reset to one collection, empty means all.
type resetRequest struct {
	Confirm string `json:"confirm"`
	Entity  string `json:"entity"`
}

// SetAutoSync handles POST /v1/control/autosync.
func (s *Server) SetAutoSync(w http.ResponseWriter, r *http.Request) {
	var req autoSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, r, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}

	s.Scheduler.SetEnabled(*req.Enabled)

	writeJSON(w, http.StatusOK, map[string]any{
		"autoSyncEnabled": s.Scheduler.Enabled(),
	})
}

// TriggerSync handles POST /v1/control/sync. The kick is queued; the pass
// runs on the scheduler goroutine even while auto sync is disabled.
func (s *Server) TriggerSync(w http.ResponseWriter, r *http.Request) {
	s.Scheduler.Kick()
	if s.Hub != nil {
		s.Hub.Logf("manual sync requested")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "scheduled",
	})
}

// TriggerBackfill handles POST /v1/control/backfill. The walk runs detached
// from the request; progress is visible through /v1/status. The busy check
// here is advisory, the engine holds the authoritative lock.
func (s *Server) TriggerBackfill(w http.ResponseWriter, r *http.Request) {
	if s.Hub != nil {
		snap := s.Hub.Snapshot()
		if snap.IsSyncing || snap.IsBulkSyncing {
			writeError(w, r, http.StatusConflict, "another sync operation is already running")
			return
		}
	}

	go func() {
		if _, err := s.Bulk.BackfillTransactions(s.lifetime()); err != nil {
			log.Warn().Err(err).Msg("Background backfill did not complete")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "started",
	})
}

// ResetCheckpoints handles POST /v1/control/reset. Dropping a checkpoint
// makes the next pass replay that entity from its default window, so the
// request must carry an explicit confirmation string.
func (s *Server) ResetCheckpoints(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Confirm != "RESET" {
		writeError(w, r, http.StatusBadRequest, `confirmation required: send {"confirm": "RESET"}`)
		return
	}

	entities := make([]string, 0, len(s.Extractors))
	if req.Entity != "" {
		if extract.ByEntity(s.Extractors, req.Entity) == nil {
			writeError(w, r, http.StatusNotFound, "unknown entity: "+req.Entity)
			return
		}
		entities = append(entities, req.Entity)
	} else {
		for _, ex := range s.Extractors {
			entities = append(entities, ex.Entity())
		}
	}

	for _, entity := range entities {
		if err := s.Checkpoints.Reset(r.Context(), s.Cfg.DeviceID, entity); err != nil {
			log.Error().Err(err).Str("entity", entity).Msg("Failed to reset checkpoint")
			writeError(w, r, http.StatusInternalServerError, "reset failed for "+entity)
			return
		}
	}

	label := req.Entity
	if label == "" {
		label = "all entities"
	}
	log.Info().Str("scope", label).Str("device_id", s.Cfg.DeviceID).Msg("Checkpoints reset")
	if s.Hub != nil {
		s.Hub.Warnf("checkpoints reset for %s", label)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reset":    entities,
		"deviceId": s.Cfg.DeviceID,
	})
}
