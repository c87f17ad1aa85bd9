package httpapi

import (
	"net/http"
	"time"
)

// ServerInfo describes the bridge's capabilities for client discovery.
type ServerInfo struct {
	APIVersion string                      `json:"apiVersion"`
	ServerTime string                      `json:"serverTime"`
	DeviceID   string                      `json:"deviceId"`
	Entities   map[string]EntityCapability `json:"entities"`
	RateLimit  *RateLimitInfo              `json:"rateLimit,omitempty"`
	Hints      *SyncHints                  `json:"hints,omitempty"`
}

// RateLimitInfo describes the server's rate limiting policy
type RateLimitInfo struct {
	WindowSeconds int `json:"windowSeconds"`
	MaxRequests   int `json:"maxRequests"`
	Burst         int `json:"burst"`
}

// SyncHints provides recommendations for client behavior
type SyncHints struct {
	RecommendedBatch int `json:"recommendedBatch"` // safe pull page size
	BackoffMsOn429   int `json:"backoffMsOn429"`   // default backoff if Retry-After missing
}

// EntityCapability describes what the bridge can serve for one entity type.
// Replication is strictly outbound, so every entity is pull-only.
type EntityCapability struct {
	MaxLimit int  `json:"maxLimit"`
	Pull     bool `json:"pull"`
}

// Info handles GET /v1/info
// Unauthenticated so clients can discover capabilities before wiring tokens.
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	entities := make(map[string]EntityCapability, len(s.Extractors))
	for _, ex := range s.Extractors {
		entities[ex.Entity()] = EntityCapability{
			MaxLimit: maxPullLimit,
			Pull:     true,
		}
	}

	rl := s.rateLimit()
	info := ServerInfo{
		APIVersion: "1.0",
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
		DeviceID:   s.Cfg.DeviceID,
		Entities:   entities,
		RateLimit:  &rl,
		Hints: &SyncHints{
			RecommendedBatch: defaultPullLimit,
			BackoffMsOn429:   1500,
		},
	}

	writeJSON(w, http.StatusOK, info)
}
