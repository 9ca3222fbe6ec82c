package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/regkb/internal/core"
	"github.com/markdave123-py/regkb/internal/core/resilience"
	"github.com/markdave123-py/regkb/internal/models"
	perr "github.com/markdave123-py/regkb/internal/platform/errors"
	"github.com/markdave123-py/regkb/internal/services"
)

type stubIngestor struct {
	got models.IngestRequest
	res *models.IngestResult
	err error
}

func (s *stubIngestor) Ingest(_ context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	s.got = req
	return s.res, s.err
}

func post(t *testing.T, h http.HandlerFunc, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(body)))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

const validBody = `{"source_type":"circular","source_ref":"4/2023","raw_text":"Article 1"}`

func TestIngest_Success(t *testing.T) {
	total := 1
	ing := &stubIngestor{res: &models.IngestResult{SourceID: "s-1", PagesProcessed: 1, ChunksCreated: 1, TotalPages: &total}}
	rec, out := post(t, NewIngestHandler(ing, 1<<20).Ingest, validBody)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "s-1", out["source_id"])
	assert.Equal(t, float64(1), out["total_pages"])
	assert.NotContains(t, out, "batch_start")
	assert.Equal(t, "4/2023", ing.got.SourceRef)
}

func TestIngest_ErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		msg    string
	}{
		{"missing field", `{"source_type":"circular","raw_text":"x"}`, nil, http.StatusBadRequest, "source_ref is a required field"},
		{"pipeline validation", validBody, perr.Validationf("start_page 9 exceeds total pages 4"), http.StatusBadRequest, "start_page 9 exceeds total pages 4"},
		{"unknown source", validBody, perr.NotFoundf("legal source x not found"), http.StatusNotFound, "not found"},
		{"open circuit", validBody, perr.Wrapf(resilience.ErrCircuitOpen, perr.ErrorCodeUnavailable, "dependency extraction unavailable"), http.StatusServiceUnavailable, "circuit open"},
		{"retries exhausted", validBody, perr.Unavailablef("extraction failed after 3 attempts"), http.StatusInternalServerError, "after 3 attempts"},
		{"plain failure", validBody, errors.New("boom"), http.StatusInternalServerError, "boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ing := &stubIngestor{err: tc.err}
			rec, out := post(t, NewIngestHandler(ing, 1<<20).Ingest, tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, false, out["success"])
			assert.Contains(t, out["error"], tc.msg)
		})
	}
}

// sourceDB implements the reads SourceService needs; other methods panic
type sourceDB struct {
	core.DbClient
	sources  map[string]*models.LegalSource
	evidence map[string][]models.Evidence
}

func (d *sourceDB) GetLegalSource(_ context.Context, id string) (*models.LegalSource, error) {
	return d.sources[id], nil
}

func (d *sourceDB) CountChunks(context.Context, string) (int, error) { return 7, nil }

func (d *sourceDB) ListEvidence(_ context.Context, id string) ([]models.Evidence, error) {
	return d.evidence[id], nil
}

func sourceRouter(db *sourceDB) http.Handler {
	h := NewSourceHandler(services.NewSourceService(db))
	r := chi.NewRouter()
	r.Get("/api/sources/{id}", h.GetSource)
	r.Get("/api/sources/{id}/evidence", h.ListEvidence)
	return r
}

func TestSourceHandler(t *testing.T) {
	id := uuid.NewString()
	db := &sourceDB{
		sources: map[string]*models.LegalSource{id: {ID: id, CountryCode: "MA", SourceType: "circular", SourceRef: "4/2023", FullText: "secret body"}},
		evidence: map[string][]models.Evidence{id: {
			{SourceID: id, CodeKey: "847130", HSCode6: "847130", PageNumber: 2, Context: "position 8471.30"},
		}},
	}
	srv := httptest.NewServer(sourceRouter(db))
	defer srv.Close()

	get := func(path string) (int, map[string]any) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	status, out := get("/api/sources/" + id)
	assert.Equal(t, http.StatusOK, status)
	src := out["source"].(map[string]any)
	assert.Equal(t, "4/2023", src["source_ref"])
	assert.Equal(t, float64(7), src["chunk_count"])
	assert.NotContains(t, src, "full_text")

	status, out = get("/api/sources/" + id + "/evidence")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), out["count"])

	status, _ = get("/api/sources/" + uuid.NewString())
	assert.Equal(t, http.StatusNotFound, status)

	status, out = get("/api/sources/not-a-uuid/evidence")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "id", out["field"])
}
