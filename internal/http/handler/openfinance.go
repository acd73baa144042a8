package handler

import (
	"net/http"
	"time"

	"ledgerly/internal/auth"
	"ledgerly/internal/finance"
	"ledgerly/internal/http/respond"
	"ledgerly/internal/jobs"
	"ledgerly/internal/jobtypes"

	"github.com/go-chi/chi/v5"
)

type OpenFinanceHandler struct {
	Finance  *finance.Service
	Enqueuer *jobs.Enqueuer
}

type createLinkReq struct {
	AccountID   string `json:"account_id"`
	Institution string `json:"institution"`
}

func (h *OpenFinanceHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())
	var req createLinkReq
	if err := respond.DecodeJSON(w, r, &req); err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "BAD_JSON", "bad json")
		return
	}
	l, err := h.Finance.CreateLink(r.Context(), owner, req.AccountID, req.Institution)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, l)
}

type ingestItem struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	AmountCents int64     `json:"amount_cents"`
	Date        time.Time `json:"date"`
}

type ingestReq struct {
	Transactions []ingestItem `json:"transactions"`
}

// Ingest records transactions reported by the aggregator for a link.
func (h *OpenFinanceHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())
	var req ingestReq
	if err := respond.DecodeJSON(w, r, &req); err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "BAD_JSON", "bad json")
		return
	}
	items := make([]finance.OpenFinanceTransaction, 0, len(req.Transactions))
	for _, t := range req.Transactions {
		items = append(items, finance.OpenFinanceTransaction{
			ID:          t.ID,
			Description: t.Description,
			AmountCents: t.AmountCents,
			Date:        t.Date,
		})
	}
	n, err := h.Finance.IngestOpenFinance(r.Context(), owner, chi.URLParam(r, "id"), items)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"ingested": n})
}

func (h *OpenFinanceHandler) Pending(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())
	linkID := chi.URLParam(r, "id")
	if _, err := h.Finance.GetLink(r.Context(), owner, linkID); err != nil {
		respond.WriteError(w, r, err)
		return
	}
	list, err := h.Finance.PendingOpenFinance(r.Context(), owner, linkID)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"transactions": list})
}

// Import enqueues the import of selected aggregator transactions.
func (h *OpenFinanceHandler) Import(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())
	var req jobtypes.OpenFinanceImportPayload
	if err := respond.DecodeJSON(w, r, &req); err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "BAD_JSON", "bad json")
		return
	}
	if len(req.Transactions) == 0 {
		respond.WriteJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "transactions required")
		return
	}
	if _, err := h.Finance.GetLink(r.Context(), owner, req.LinkID); err != nil {
		respond.WriteError(w, r, err)
		return
	}

	id, err := h.Enqueuer.Enqueue(r.Context(), jobs.EnqueueRequest{
		Type:    jobs.TypeOpenFinanceImport,
		OwnerID: owner,
		Payload: req,
	})
	if err != nil {
		writeEnqueueError(w, r, id, err)
		return
	}
	writeAccepted(w, id)
}
