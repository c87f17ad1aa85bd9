package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// checkpointView is the wire shape of one replication checkpoint.
type checkpointView struct {
	EntityType      string     `json:"entityType"`
	LastSyncTime    time.Time  `json:"lastSyncTime"`
	LastRecordID    int64      `json:"lastRecordId"`
	LastDeleteCheck *time.Time `json:"lastDeleteCheck,omitempty"`
	Payload         string     `json:"payload,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// GetStatus handles GET /v1/status. It returns the hub snapshot as is.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Hub.Snapshot())
}

// GetLogs handles GET /v1/logs. Lines come back oldest first, capped by the
// hub's ring size.
func (s *Server) GetLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"lines": s.Hub.Lines(),
	})
}

// GetCheckpoints handles GET /v1/checkpoints. It lists this device's
// per-entity replication positions so operators can see how far each
// collection has caught up.
func (s *Server) GetCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := s.Checkpoints.List(r.Context(), s.Cfg.DeviceID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list checkpoints")
		writeError(w, r, http.StatusInternalServerError, "failed to load checkpoints")
		return
	}

	views := make([]checkpointView, 0, len(cps))
	for _, cp := range cps {
		views = append(views, checkpointView{
			EntityType:      cp.EntityType,
			LastSyncTime:    cp.LastSyncTime,
			LastRecordID:    cp.LastRecordID,
			LastDeleteCheck: cp.LastDeleteCheck,
			Payload:         cp.Payload,
			UpdatedAt:       cp.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deviceId":    s.Cfg.DeviceID,
		"checkpoints": views,
	})
}
