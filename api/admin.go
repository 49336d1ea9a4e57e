package api

import (
	"net/http"

	"github.com/warp/estimator/users"
)

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// Register creates an unapproved account. It is the only public route.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	id, err := h.Users.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUserDTO(*currentUser(r)))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.Users.List(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTOs(list))
}

func (h *Handler) ListPendingUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.Users.ListPending(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTOs(list))
}

func (h *Handler) ApproveUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.Users.Approve(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "User approved"})
}

func (h *Handler) DenyUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.Users.Deny(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "User denied"})
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req users.Profile
	if !decode(w, r, &req) {
		return
	}
	if err := h.Users.Update(r.Context(), id, req); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	u, err := h.Users.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.Users.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "User deleted"})
}

func (h *Handler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req RoleRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.Users.SetRole(r.Context(), id, req.Role); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Role updated"})
}
