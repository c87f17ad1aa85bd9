package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/tillbridge/tillbridge/internal/extract"
	"github.com/tillbridge/tillbridge/internal/syncx"
)

const (
	defaultPullLimit = 500
	maxPullLimit     = 1000
)

// PullEntity handles GET /v1/pull/{entity}?cursor=<opaque>&limit=<int>
// It reads changed documents straight from the source in deterministic
// (marker, id) order; the cursor in the response resumes exactly after the
// last returned row, so equal timestamps never skip or repeat records.
func (s *Server) PullEntity(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	ex := extract.ByEntity(s.Extractors, entity)
	if ex == nil {
		writeError(w, r, http.StatusNotFound, "unknown entity: "+entity)
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"), defaultPullLimit, maxPullLimit)
	since, ok := syncx.DecodeCursor(r.URL.Query().Get("cursor"))
	if !ok {
		// No cursor = start from the epoch
		since = syncx.Marker{}
	}

	docs, err := ex.ChangedPage(r.Context(), since, limit)
	if err != nil {
		log.Error().Err(err).Str("entity", entity).Msg("pull query failed")
		writeError(w, r, http.StatusInternalServerError, "query failed")
		return
	}

	items := make([]any, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.Body)
	}

	// Snapshot entities carry zero markers and always return the full set,
	// so there is nothing to resume from.
	var nextCursor *string
	if last := len(docs) - 1; last >= 0 && !docs[last].Marker.IsZero() {
		encoded := syncx.EncodeCursor(docs[last].Marker)
		nextCursor = &encoded
	}

	writeJSON(w, http.StatusOK, pullResp{
		Items:      items,
		NextCursor: nextCursor,
	})
}
