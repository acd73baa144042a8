package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"ledgerly/internal/finance"
	"ledgerly/internal/jobs"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func TestWriteErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		code    string
		message string
	}{
		{jobs.ErrNotFound, http.StatusNotFound, "JOB_NOT_FOUND", "job not found"},
		{fmt.Errorf("%w: bad type", jobs.ErrInvalidRequest), http.StatusBadRequest, "INVALID_JOB_REQUEST", "invalid job request: bad type"},
		{jobs.ErrTerminal, http.StatusConflict, "JOB_TERMINAL", "job is in a terminal state"},
		{jobs.ErrQueueUnavailable, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "queue unavailable"},
		{fmt.Errorf("%s %w", "category", finance.ErrNotFound), http.StatusNotFound, "RESOURCE_NOT_FOUND", "category not found"},
		{errors.New("dial tcp 10.0.0.1:5432: connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), tc.err)

		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, http.StatusText(tc.status), body.Error)
		require.Equal(t, tc.code, body.Code)
		require.Equal(t, tc.message, body.Message)
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &v))
	require.Equal(t, "a", v.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))
	require.Error(t, DecodeJSON(httptest.NewRecorder(), req, &v))
}
