package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/markdave123-py/regkb/internal/core/resilience"
)

// Pinger is satisfied by the database client
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db       Pinger
	breakers *resilience.Breakers
	circuits []string
}

func NewHealthHandler(db Pinger, breakers *resilience.Breakers, circuits ...string) *HealthHandler {
	return &HealthHandler{db: db, breakers: breakers, circuits: circuits}
}

// Health serves GET /healthz with the database status and the state of each circuit
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	dbState := "ok"
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			dbState = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	circuits := make(map[string]string, len(h.circuits))
	for _, name := range h.circuits {
		circuits[name] = h.breakers.Stats(name).State.String()
	}

	writeJSON(w, status, map[string]any{
		"success":  status == http.StatusOK,
		"database": dbState,
		"circuits": circuits,
	})
}
