package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"gelato-costing/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeErrorResponse(w, r, errorResponse{Error: message, Code: code}, status)
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, resp errorResponse, status int) {
	resp.RequestID = requestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps core errors to HTTP status codes. Anything unrecognised
// is logged and reported as 500 without leaking internals.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *core.ValidationError
	var mr *core.MissingRateError
	switch {
	case errors.As(err, &ve):
		writeErrorResponse(w, r, errorResponse{Error: ve.Error(), Code: "VALIDATION_ERROR", Field: ve.Field}, http.StatusBadRequest)
	case errors.Is(err, core.ErrIncompleteLines):
		writeError(w, r, core.ErrIncompleteLines.Error(), "INCOMPLETE_LINES", http.StatusBadRequest)
	case errors.As(err, &mr):
		writeErrorResponse(w, r, errorResponse{
			Error: mr.Error() + "; supply a manual rate", Code: "MISSING_RATE", Field: "manual_fx_rate",
		}, http.StatusUnprocessableEntity)
	case errors.Is(err, core.ErrMissingRate):
		writeError(w, r, err.Error(), "MISSING_RATE", http.StatusUnprocessableEntity)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound)
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}
