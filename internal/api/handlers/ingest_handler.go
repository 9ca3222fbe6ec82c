package handlers

import (
	"net/http"

	"github.com/markdave123-py/regkb/internal/api/bind"
	"github.com/markdave123-py/regkb/internal/core/ingestion_engine"
	"github.com/markdave123-py/regkb/internal/models"
)

type IngestHandler struct {
	ingestor     ingestion_engine.Ingestor
	maxBodyBytes int64
}

// NewIngestHandler serves POST /api/ingest. maxBodyBytes bounds the JSON body, base64 payload included
func NewIngestHandler(ing ingestion_engine.Ingestor, maxBodyBytes int64) *IngestHandler {
	return &IngestHandler{ingestor: ing, maxBodyBytes: maxBodyBytes}
}

// Ingest runs one synchronous ingestion invocation
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	req, err := bind.ParseJSON[models.IngestRequest](r, h.maxBodyBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.ingestor.Ingest(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res.Success = true
	writeJSON(w, http.StatusOK, res)
}
