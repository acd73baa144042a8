package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ledgerly/internal/auth"
	"ledgerly/internal/finance"
	"ledgerly/internal/http/respond"
	"ledgerly/internal/jobs"
	"ledgerly/internal/jobtypes"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// JobView is the polling representation of a job.
type JobView struct {
	ID        string          `json:"id"`
	OwnerID   uint64          `json:"owner_id"`
	Type      string          `json:"type"`
	Status    jobs.Status     `json:"status"`
	Progress  jobs.Progress   `json:"progress"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *string         `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func NewJobView(j *jobs.Job) JobView {
	v := JobView{
		ID:        j.ID,
		OwnerID:   j.OwnerID,
		Type:      j.Type,
		Status:    j.Status,
		Progress:  j.Progress(),
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Status == jobs.StatusCompleted && len(j.Result) > 0 {
		v.Result = json.RawMessage(j.Result)
	}
	if j.Status == jobs.StatusFailed {
		v.Error = j.Error
	}
	return v
}

type acceptedResp struct {
	JobID  string      `json:"job_id"`
	Status jobs.Status `json:"status"`
}

func writeAccepted(w http.ResponseWriter, id string) {
	respond.WriteJSON(w, http.StatusAccepted, acceptedResp{JobID: id, Status: jobs.StatusQueued})
}

type enqueueErrorResp struct {
	respond.ErrorResponse
	JobID string `json:"job_id"`
}

// writeEnqueueError reports a failed Enqueue. When only the push failed the
// job exists and is picked up by the sweeper, so its id is returned as well.
func writeEnqueueError(w http.ResponseWriter, r *http.Request, id string, err error) {
	if id == "" || !errors.Is(err, jobs.ErrQueueUnavailable) {
		respond.WriteError(w, r, err)
		return
	}
	log.Warn().Str("component", "http").Str("job_id", id).Err(err).Msg("job stored but not pushed")
	respond.WriteJSON(w, http.StatusServiceUnavailable, enqueueErrorResp{
		ErrorResponse: respond.ErrorResponse{
			Error:   http.StatusText(http.StatusServiceUnavailable),
			Code:    "QUEUE_UNAVAILABLE",
			Message: "job stored, queue unavailable; it will be retried",
		},
		JobID: id,
	})
}

type JobHandler struct {
	Repo     *jobs.Repo
	Enqueuer *jobs.Enqueuer
	Finance  *finance.Service
}

type createJobReq struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())

	var req createJobReq
	if err := respond.DecodeJSON(w, r, &req); err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "BAD_JSON", "bad json")
		return
	}

	if req.Type == jobs.TypeCSVImport {
		respond.WriteJSONError(w, http.StatusBadRequest, "INVALID_JOB_REQUEST", "csv imports are started by uploading the file")
		return
	}
	if req.Type == jobs.TypeCategoryMigration {
		var p jobtypes.CategoryMigrationPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			respond.WriteJSONError(w, http.StatusBadRequest, "INVALID_JOB_REQUEST", "invalid payload")
			return
		}
		if err := h.Finance.ValidateMigration(r.Context(), owner, p.SourceCategoryID, p.TargetCategoryID); err != nil {
			respond.WriteError(w, r, err)
			return
		}
	}

	id, err := h.Enqueuer.Enqueue(r.Context(), jobs.EnqueueRequest{
		Type:    req.Type,
		OwnerID: owner,
		Payload: req.Payload,
	})
	if err != nil {
		writeEnqueueError(w, r, id, err)
		return
	}
	writeAccepted(w, id)
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())
	q := r.URL.Query()

	f := jobs.ListFilter{Status: jobs.Status(q.Get("status")), Type: q.Get("type")}
	if f.Status != "" && !f.Status.Valid() {
		respond.WriteJSONError(w, http.StatusBadRequest, "INVALID_STATUS", "invalid status")
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respond.WriteJSONError(w, http.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
			return
		}
		f.Limit = n
	}

	list, err := h.Repo.ListByOwner(r.Context(), owner, f)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	out := make([]JobView, 0, len(list))
	for i := range list {
		out = append(out, NewJobView(&list[i]))
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())
	job, err := h.Repo.Get(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, NewJobView(job))
}

func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())
	job, err := h.Repo.Cancel(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		if errors.Is(err, jobs.ErrTerminal) {
			respond.WriteJSONError(w, http.StatusConflict, "JOB_TERMINAL", "job already finished")
			return
		}
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, NewJobView(job))
}
