// Package respond writes JSON responses and maps domain errors to HTTP
// statuses.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"ledgerly/internal/finance"
	"ledgerly/internal/jobs"
)

// ErrorResponse is the body of every error response.
//
//	{"error": "Not Found", "code": "JOB_NOT_FOUND", "message": "job not found"}
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func WriteJSONError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	})
}

type mapping struct {
	target error
	status int
	code   string
}

var mappings = []mapping{
	{jobs.ErrNotFound, http.StatusNotFound, "JOB_NOT_FOUND"},
	{jobs.ErrConflict, http.StatusConflict, "JOB_CONFLICT"},
	{jobs.ErrTerminal, http.StatusConflict, "JOB_TERMINAL"},
	{jobs.ErrInvalidRequest, http.StatusBadRequest, "INVALID_JOB_REQUEST"},
	{jobs.ErrQueueUnavailable, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE"},
	{finance.ErrNotFound, http.StatusNotFound, "RESOURCE_NOT_FOUND"},
	{finance.ErrInvalid, http.StatusBadRequest, "INVALID_INPUT"},
	{finance.ErrConflict, http.StatusConflict, "CONFLICT"},
}

// WriteError picks the status from err and logs it. Messages of unmapped
// errors are not sent to the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	message := "internal server error"
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			status, code, message = m.status, m.code, err.Error()
			break
		}
	}

	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).
		Str("component", "http").
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("request_id", middleware.GetReqID(r.Context())).
		Int("status", status).
		Str("code", code).
		Msg("request failed")

	WriteJSONError(w, status, code, message)
}

// DecodeJSON reads a JSON body into v, rejecting unknown fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
