package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/regkb/internal/services"
)

type SourceHandler struct {
	sources *services.SourceService
}

func NewSourceHandler(sources *services.SourceService) *SourceHandler {
	return &SourceHandler{sources: sources}
}

// GetSource serves GET /api/sources/{id}
func (h *SourceHandler) GetSource(w http.ResponseWriter, r *http.Request) {
	view, err := h.sources.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "source": view})
}

// ListEvidence serves GET /api/sources/{id}/evidence
func (h *SourceHandler) ListEvidence(w http.ResponseWriter, r *http.Request) {
	rows, err := h.sources.Evidence(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "evidence": rows, "count": len(rows)})
}
