package api

import (
	"time"

	"github.com/warp/estimator/users"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RoleRequest struct {
	Role users.Role `json:"role"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type CreatedResponse struct {
	ID int64 `json:"id"`
}

// LoginResponse carries the access token to send as
// "Authorization: Bearer <token>".
type LoginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	User      UserDTO   `json:"user"`
}

type NextNumberResponse struct {
	Number string `json:"number"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// UserDTO is a user as the API shows it. The password hash is never
// included.
type UserDTO struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	IsApproved bool   `json:"is_approved"`
	CreatedAt  string `json:"created_at"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toUserDTO(u users.User) UserDTO {
	return UserDTO{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Role:       string(u.Role),
		IsApproved: u.IsApproved,
		CreatedAt:  u.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func toUserDTOs(list []users.User) []UserDTO {
	out := make([]UserDTO, len(list))
	for i, u := range list {
		out[i] = toUserDTO(u)
	}
	return out
}
