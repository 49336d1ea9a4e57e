package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/warp/estimator/auth"
	"github.com/warp/estimator/core"
	"github.com/warp/estimator/users"
)

type userKey struct{}

// Login exchanges email and password for an access token. Pending
// accounts get 403 pending_approval and no token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}

	u, err := h.Users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if u == nil {
		writeError(w, http.StatusUnauthorized, "Invalid email or password", nil)
		return
	}

	token, expires, err := auth.Mint(h.Tokens, h.now(), *u)
	if err != nil {
		h.Log.Error().Err(err).Int64("user_id", u.ID).Msg("mint token")
		writeError(w, http.StatusInternalServerError, "Could not issue token", nil)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expires.UTC(),
		User:      toUserDTO(*u),
	})
}

// Authenticate verifies the Bearer token, reloads the account it names
// and stores it in the request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			unauthorized(w, "Authentication required")
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			unauthorized(w, "Invalid token format")
			return
		}

		claims, err := auth.Parse(h.Tokens, h.now(), token)
		if err != nil {
			unauthorized(w, "Invalid token")
			return
		}

		u, err := h.Users.Get(r.Context(), claims.UserID)
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		if u == nil {
			unauthorized(w, "Account no longer exists")
			return
		}
		if !u.CanAccess() {
			h.writeStoreError(w, r, core.E(core.ErrPendingApproval, "api.authenticate", nil).WithID(u.ID))
			return
		}

		ctx := context.WithValue(r.Context(), userKey{}, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="estimator"`)
	writeError(w, http.StatusUnauthorized, message, nil)
}

// RequireAdmin rejects callers without the admin role. It must run after
// Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(r)
		if u == nil || !u.IsAdmin() {
			writeError(w, http.StatusForbidden, "Admin access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func currentUser(r *http.Request) *users.User {
	u, _ := r.Context().Value(userKey{}).(*users.User)
	return u
}
