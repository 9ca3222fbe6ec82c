package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/regkb/internal/config"
	"github.com/markdave123-py/regkb/internal/core"
	"github.com/markdave123-py/regkb/internal/core/ratelimit"
	"github.com/markdave123-py/regkb/internal/core/resilience"
	"github.com/markdave123-py/regkb/internal/models"
)

type pingDB struct {
	core.DbClient
	err error
}

func (d *pingDB) Ping(context.Context) error { return d.err }

type okIngestor struct{ calls int }

func (o *okIngestor) Ingest(context.Context, models.IngestRequest) (*models.IngestResult, error) {
	o.calls++
	return &models.IngestResult{SourceID: "s-1"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		MaxPayloadBytes:   1 << 20,
		InvocationTimeout: time.Minute,
		CORSOrigins:       []string{"*"},
	}
}

func TestRouter(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxRequests: 2, Window: time.Minute, BlockDuration: time.Minute}, nil)
	ing := &okIngestor{}
	breakers := resilience.NewBreakers(resilience.DefaultBreakerConfig)
	h := NewRouter(testConfig(), &pingDB{}, ing, breakers, limiter)

	ingest := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/ingest",
			strings.NewReader(`{"source_type":"law","source_ref":"15-89","raw_text":"Article premier"}`))
		req.Header.Set("X-Client-ID", "router-test")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := ingest()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, ingest().Code)
	rec = ingest()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, 2, ing.calls)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"extraction":"closed"`)
}

func TestRouter_HealthReportsDatabase(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxRequests: 10, Window: time.Minute}, nil)
	h := NewRouter(testConfig(), &pingDB{err: context.DeadlineExceeded}, &okIngestor{}, resilience.NewBreakers(resilience.DefaultBreakerConfig), limiter)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"unreachable"`)
}
