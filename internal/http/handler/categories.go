package handler

import (
	"net/http"

	"ledgerly/internal/auth"
	"ledgerly/internal/finance"
	"ledgerly/internal/http/respond"
	"ledgerly/internal/jobs"
	"ledgerly/internal/jobtypes"

	"github.com/go-chi/chi/v5"
)

type CategoryHandler struct {
	Finance  *finance.Service
	Enqueuer *jobs.Enqueuer
}

func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())
	cats, err := h.Finance.ListCategories(r.Context(), owner, r.URL.Query().Get("active") == "true")
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

type createCategoryReq struct {
	Name string               `json:"name"`
	Kind finance.CategoryKind `json:"kind"`
}

func (h *CategoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())
	var req createCategoryReq
	if err := respond.DecodeJSON(w, r, &req); err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "BAD_JSON", "bad json")
		return
	}
	c, err := h.Finance.CreateCategory(r.Context(), owner, req.Name, req.Kind)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, c)
}

type migrateReq struct {
	TargetCategoryID string `json:"target_category_id"`
}

// Migrate validates the request synchronously and moves the transactions in
// a background job.
func (h *CategoryHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())
	source := chi.URLParam(r, "id")

	var req migrateReq
	if err := respond.DecodeJSON(w, r, &req); err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "BAD_JSON", "bad json")
		return
	}
	if err := h.Finance.ValidateMigration(r.Context(), owner, source, req.TargetCategoryID); err != nil {
		respond.WriteError(w, r, err)
		return
	}

	id, err := h.Enqueuer.Enqueue(r.Context(), jobs.EnqueueRequest{
		Type:    jobs.TypeCategoryMigration,
		OwnerID: owner,
		Payload: jobtypes.CategoryMigrationPayload{
			SourceCategoryID: source,
			TargetCategoryID: req.TargetCategoryID,
			OwnerID:          owner,
		},
	})
	if err != nil {
		writeEnqueueError(w, r, id, err)
		return
	}
	writeAccepted(w, id)
}
