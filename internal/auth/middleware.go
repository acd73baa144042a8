package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"ledgerly/internal/http/respond"
)

type ctxKey string

const (
	userIDKey  ctxKey = "user_id"
	ownerIDKey ctxKey = "owner_id"
)

// OwnerHeader selects whose data a request acts on when the caller has been
// granted shared access.
const OwnerHeader = "X-Owner-Id"

func UserIDFromContext(ctx context.Context) (uint64, bool) {
	v := ctx.Value(userIDKey)
	id, ok := v.(uint64)
	return id, ok
}

// OwnerIDFromContext returns the effective owner, falling back to the caller.
func OwnerIDFromContext(ctx context.Context) (uint64, bool) {
	if id, ok := ctx.Value(ownerIDKey).(uint64); ok {
		return id, true
	}
	return UserIDFromContext(ctx)
}

func WithUserID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func WithOwnerID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, ownerIDKey, id)
}

func RequireAuth(jwtSvc *JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if h == "" || !strings.HasPrefix(h, "Bearer ") {
				respond.WriteJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}
			token := strings.TrimPrefix(h, "Bearer ")

			uid, err := jwtSvc.Verify(token)
			if err != nil {
				respond.WriteJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), uid)))
		})
	}
}

// ResolveOwner sets the effective owner for the request. Without the owner
// header the caller acts on their own data. Requests other than GET and HEAD
// need an editor share. Must run after RequireAuth.
func ResolveOwner(res OwnerResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid, ok := UserIDFromContext(r.Context())
			if !ok {
				respond.WriteJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
				return
			}

			var requested uint64
			if v := strings.TrimSpace(r.Header.Get(OwnerHeader)); v != "" {
				id, err := strconv.ParseUint(v, 10, 64)
				if err != nil {
					respond.WriteJSONError(w, http.StatusBadRequest, "INVALID_OWNER", "invalid "+OwnerHeader)
					return
				}
				requested = id
			}

			write := r.Method != http.MethodGet && r.Method != http.MethodHead
			owner, err := res.ResolveOwner(r.Context(), uid, requested, write)
			if err != nil {
				switch {
				case errors.Is(err, ErrForbidden):
					respond.WriteJSONError(w, http.StatusForbidden, "FORBIDDEN", "no access to this owner")
					return
				case errors.Is(err, ErrReadOnly):
					respond.WriteJSONError(w, http.StatusForbidden, "READ_ONLY_SHARE", "share does not allow changes")
					return
				}
				respond.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), owner)))
		})
	}
}
