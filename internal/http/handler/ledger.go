package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"ledgerly/internal/auth"
	"ledgerly/internal/finance"
	"ledgerly/internal/http/respond"
)

// LedgerHandler serves accounts and transactions.
type LedgerHandler struct {
	Finance *finance.Service
}

func (h *LedgerHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())
	accounts, err := h.Finance.ListAccounts(r.Context(), owner)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

type createAccountReq struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

func (h *LedgerHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())
	var req createAccountReq
	if err := respond.DecodeJSON(w, r, &req); err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "BAD_JSON", "bad json")
		return
	}
	a, err := h.Finance.CreateAccount(r.Context(), owner, req.Name, req.Currency)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, a)
}

func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := h.Finance.RecentTransactions(r.Context(), owner, limit)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

type createTransactionReq struct {
	AccountID   string         `json:"account_id"`
	CategoryID  *string        `json:"category_id"`
	Description string         `json:"description"`
	Amount      finance.Amount `json:"amount"`
	Date        *time.Time     `json:"date"`
}

func (h *LedgerHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())
	var req createTransactionReq
	if err := respond.DecodeJSON(w, r, &req); err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "BAD_JSON", "bad json")
		return
	}
	in := finance.NewTransaction{
		AccountID:   strings.TrimSpace(req.AccountID),
		CategoryID:  req.CategoryID,
		Description: req.Description,
		AmountCents: int64(req.Amount),
	}
	if req.Date != nil {
		in.Date = *req.Date
	}
	tx, _, err := h.Finance.CreateTransaction(r.Context(), owner, in)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, tx)
}

func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())
	cents, err := h.Finance.Balance(r.Context(), owner, r.URL.Query().Get("account_id"))
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{
		"balance_cents": cents,
		"balance":       finance.FormatAmount(cents),
	})
}
