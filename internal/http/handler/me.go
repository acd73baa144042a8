package handler

import (
	"errors"
	"net/http"
	"strconv"

	"ledgerly/internal/auth"
	"ledgerly/internal/http/respond"

	"github.com/go-chi/chi/v5"
)

type MeHandler struct {
	Shares *auth.ShareResolver
}

func (h *MeHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	owner, _ := auth.OwnerIDFromContext(r.Context())
	respond.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":  uid,
		"owner_id": owner,
	})
}

type shareReq struct {
	MemberID uint64 `json:"member_id"`
	Role     string `json:"role"`
}

// Share gives another user access to the caller's data.
func (h *MeHandler) Share(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	var req shareReq
	if err := respond.DecodeJSON(w, r, &req); err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "BAD_JSON", "bad json")
		return
	}
	if req.MemberID == 0 || req.MemberID == uid {
		respond.WriteJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "member_id must be another user")
		return
	}
	if err := h.Shares.Grant(r.Context(), uid, req.MemberID, req.Role); err != nil {
		if errors.Is(err, auth.ErrInvalidRole) {
			respond.WriteJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "role must be viewer or editor")
			return
		}
		respond.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MeHandler) Unshare(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	member, err := strconv.ParseUint(chi.URLParam(r, "member"), 10, 64)
	if err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid member id")
		return
	}
	if err := h.Shares.Revoke(r.Context(), uid, member); err != nil {
		respond.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
