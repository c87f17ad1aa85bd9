package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tillbridge/tillbridge/internal/auth"
	"github.com/tillbridge/tillbridge/internal/config"
	"github.com/tillbridge/tillbridge/internal/extract"
	"github.com/tillbridge/tillbridge/internal/model"
	"github.com/tillbridge/tillbridge/internal/status"
)

// PassControl is the scheduler surface the control endpoints drive.
type PassControl interface {
	Kick()
	SetEnabled(on bool)
	Enabled() bool
}

// BulkRunner starts a full transaction history backfill.
type BulkRunner interface {
	BackfillTransactions(ctx context.Context) (model.SyncResult, error)
}

// CheckpointAdmin exposes the checkpoint inspection and reset operations.
type CheckpointAdmin interface {
	List(ctx context.Context, deviceID string) ([]model.Checkpoint, error)
	Reset(ctx context.Context, deviceID, entityType string) error
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	Cfg         *config.Config
	Hub         *status.Hub
	Extractors  []extract.Extractor
	Checkpoints CheckpointAdmin
	Scheduler   PassControl
	Bulk        BulkRunner
	Gatherer    prometheus.Gatherer

	// Lifetime bounds operations that outlive their triggering request,
	// such as a backfill started from the control API.
	Lifetime context.Context

	RateLimitConfig RateLimitInfo
}

type errorResponse struct {
	Error string `json:"error"`
}

// pullResp is the response body for the pull endpoint.
type pullResp struct {
	Items      []any   `json:"items"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", code).
		Str("error", msg).
		Msg("request failed")
	writeJSON(w, code, errorResponse{Error: msg})
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (s *Server) lifetime() context.Context {
	if s.Lifetime != nil {
		return s.Lifetime
	}
	return context.Background()
}

func (s *Server) gatherer() prometheus.Gatherer {
	if s.Gatherer != nil {
		return s.Gatherer
	}
	return prometheus.DefaultGatherer
}

func (s *Server) rateLimit() RateLimitInfo {
	if s.RateLimitConfig.MaxRequests > 0 {
		return s.RateLimitConfig
	}
	return RateLimitInfo{WindowSeconds: 60, MaxRequests: 600, Burst: 120}
}

// Routes creates the HTTP router with all endpoints.
func (s *Server) Routes(authCfg auth.Cfg) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Unauthenticated: health, capability discovery, scrape target
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})
	r.Get("/v1/info", s.Info)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer(), promhttp.HandlerOpts{}))

	// Everything else requires authentication
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authCfg))
		r.Use(RateLimitMiddleware(s.rateLimit()))

		r.Get("/v1/status", s.GetStatus)
		r.Get("/v1/logs", s.GetLogs)
		r.Get("/v1/checkpoints", s.GetCheckpoints)
		r.Get("/v1/pull/{entity}", s.PullEntity)

		r.Post("/v1/control/autosync", s.SetAutoSync)
		r.Post("/v1/control/sync", s.TriggerSync)
		r.Post("/v1/control/backfill", s.TriggerBackfill)
		r.Post("/v1/control/reset", s.ResetCheckpoints)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
