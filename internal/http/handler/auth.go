package handler

import (
	"errors"
	"net/http"
	"strings"

	"ledgerly/internal/auth"
	"ledgerly/internal/http/respond"

	"gorm.io/gorm"
)

type AuthHandler struct {
	DB  *gorm.DB
	JWT *auth.JWT
}

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResp struct {
	Token string `json:"token"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := respond.DecodeJSON(w, r, &req); err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "BAD_JSON", "bad json")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || len(req.Password) < 8 {
		respond.WriteJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "email and a password of at least 8 characters required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}

	u := auth.User{Email: req.Email, PasswordHash: hash}
	if err := h.DB.WithContext(r.Context()).Create(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			respond.WriteJSONError(w, http.StatusConflict, "EMAIL_TAKEN", "email already used")
			return
		}
		respond.WriteError(w, r, err)
		return
	}

	token, err := h.JWT.Sign(u.ID)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, tokenResp{Token: token})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := respond.DecodeJSON(w, r, &req); err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "BAD_JSON", "bad json")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		respond.WriteJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "email and password required")
		return
	}

	var u auth.User
	if err := h.DB.WithContext(r.Context()).Where("email = ?", req.Email).First(&u).Error; err != nil {
		respond.WriteJSONError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}
	if !auth.ComparePassword(u.PasswordHash, req.Password) {
		respond.WriteJSONError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}

	token, err := h.JWT.Sign(u.ID)
	if err != nil {
		respond.WriteError(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, tokenResp{Token: token})
}
