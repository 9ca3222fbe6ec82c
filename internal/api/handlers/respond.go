package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/markdave123-py/regkb/internal/core/resilience"
	perr "github.com/markdave123-py/regkb/internal/platform/errors"
	"github.com/markdave123-py/regkb/internal/platform/logger"
)

// errorBody is the failure envelope shared by every endpoint
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error to the HTTP status the API reports.
// Only an open circuit is a 503; exhausted retries and other failures are 500s
func StatusFor(err error) int {
	if resilience.IsOpen(err) {
		return http.StatusServiceUnavailable
	}
	switch perr.CodeOf(err) {
	case perr.ErrorCodeValidation:
		return http.StatusBadRequest
	case perr.ErrorCodeNotFound:
		return http.StatusNotFound
	case perr.ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case perr.ErrorCodeTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	body := errorBody{Success: false, Error: err.Error()}
	if e, ok := perr.As(err); ok {
		body.Field = e.Field()
		if status < http.StatusInternalServerError {
			body.Error = perr.Message(err)
		}
	}

	log := logger.C(r.Context())
	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Int("status", status).Str("code", perr.CodeOf(err).String()).Str("path", r.URL.Path).Msg("request failed")

	writeJSON(w, status, body)
}
