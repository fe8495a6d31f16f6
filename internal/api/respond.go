package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/access-atlas/atlas/internal/facility"
	"github.com/access-atlas/atlas/internal/importer"
	"github.com/access-atlas/atlas/internal/overpass"
)

// Error codes for failures that are not validation errors.
const (
	codeInvalidRequest    = "invalid_request"
	codeNotFound          = "not_found"
	codeSourceRateLimited = "source_rate_limited"
	codeSourceUnavailable = "source_unavailable"
	codeImportTimeout     = "import_timeout"
	codeImportDisabled    = "import_disabled"
	codeInternal          = "internal_error"
)

type errorBody struct {
	Error   string            `json:"error"`
	Field   string            `json:"field,omitempty"`
	Message string            `json:"message"`
	Summary *importer.Summary `json:"summary,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to its HTTP status and response body.
func statusFor(err error) (int, errorBody) {
	if ve, ok := facility.AsValidation(err); ok {
		return http.StatusBadRequest, errorBody{Error: ve.Code, Field: ve.Field, Message: ve.Message}
	}
	switch {
	case errors.Is(err, facility.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: codeNotFound, Message: "facility not found"}
	case errors.Is(err, overpass.ErrSourceRateLimited):
		return http.StatusTooManyRequests, errorBody{Error: codeSourceRateLimited, Message: "ingestion source is rate limiting requests"}
	case errors.Is(err, overpass.ErrSourceUnavailable):
		return http.StatusBadGateway, errorBody{Error: codeSourceUnavailable, Message: "ingestion source is unavailable"}
	case errors.Is(err, importer.ErrRunTimeout):
		return http.StatusBadGateway, errorBody{Error: codeImportTimeout, Message: "import run timed out"}
	default:
		return http.StatusInternalServerError, errorBody{Error: codeInternal, Message: "internal error"}
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error, summary *importer.Summary) {
	status, body := statusFor(err)
	body.Summary = summary
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, code, field, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: code, Field: field, Message: message})
}
