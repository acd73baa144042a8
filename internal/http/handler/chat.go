package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"ledgerly/internal/auth"
	"ledgerly/internal/finance"
	"ledgerly/internal/http/middleware"
	"ledgerly/internal/http/respond"
	"ledgerly/internal/jobs"
	"ledgerly/internal/jobtypes"
	"ledgerly/internal/ratelimit"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// SecretHeader carries the shared secret of the messaging bridge.
const SecretHeader = "X-Webhook-Secret"

// ChatHandler is the entry point of the messaging bridge. Requests are not
// authenticated as a user; the phone number selects the owner.
type ChatHandler struct {
	Secret   string
	Limiter  ratelimit.Limiter
	Finance  *finance.Service
	Repo     *jobs.Repo
	Enqueuer *jobs.Enqueuer
}

// RequireSecret rejects requests without the configured webhook secret. An
// empty secret disables the bridge.
func (h *ChatHandler) RequireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(SecretHeader)
		if h.Secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
			respond.WriteJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid webhook secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type chatOperationReq struct {
	Phone     string          `json:"phone"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`
}

func (h *ChatHandler) Operation(w http.ResponseWriter, r *http.Request) {
	var req chatOperationReq
	if err := respond.DecodeJSON(w, r, &req); err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "BAD_JSON", "bad json")
		return
	}
	phone := finance.NormalizePhone(req.Phone)
	if phone == "" {
		respond.WriteJSONError(w, http.StatusBadRequest, "PHONE_REQUIRED", "phone required")
		return
	}
	if !jobtypes.ValidOperation(req.Operation) {
		respond.WriteJSONError(w, http.StatusBadRequest, "UNKNOWN_OPERATION", "unknown operation")
		return
	}

	if h.Limiter != nil {
		ok, err := middleware.Allow(w, r, h.Limiter, "chat:"+phone)
		if err != nil {
			log.Warn().Str("component", "http.chat").Err(err).Msg("rate limiter unavailable")
		}
		if !ok {
			return
		}
	}

	owner, err := h.Finance.OwnerByPhone(r.Context(), phone)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}

	id, err := h.Enqueuer.Enqueue(r.Context(), jobs.EnqueueRequest{
		Type:    jobs.TypeChatOperation,
		OwnerID: owner,
		Payload: jobtypes.ChatPayload{Phone: phone, Operation: req.Operation, Data: req.Data},
	})
	if err != nil {
		writeEnqueueError(w, r, id, err)
		return
	}
	writeAccepted(w, id)
}

// Job returns a job of the owner linked to the phone query parameter.
func (h *ChatHandler) Job(w http.ResponseWriter, r *http.Request) {
	owner, err := h.Finance.OwnerByPhone(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	job, err := h.Repo.Get(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, NewJobView(job))
}

type linkPhoneReq struct {
	Phone string `json:"phone"`
}

// LinkPhone binds a phone number to the calling user. The route trusts the
// JWT user and does not verify the number.
// TODO: require an OTP sent to the number before the link becomes active.
func (h *ChatHandler) LinkPhone(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	var req linkPhoneReq
	if err := respond.DecodeJSON(w, r, &req); err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "BAD_JSON", "bad json")
		return
	}
	l, err := h.Finance.LinkPhone(r.Context(), req.Phone, uid)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, l)
}

func (h *ChatHandler) UnlinkPhone(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	err := h.Finance.UnlinkPhone(r.Context(), strings.TrimSpace(chi.URLParam(r, "phone")), uid)
	if err != nil && !errors.Is(err, finance.ErrNotFound) {
		respond.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
