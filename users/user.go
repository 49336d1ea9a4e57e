package users

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Role is the access level of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is an account. Password holds the bcrypt hash and is never
// serialized.
type User struct {
	ID         int64     `db:"id" json:"id"`
	Email      string    `db:"email" json:"email"`
	Password   string    `db:"password" json:"-"`
	Name       string    `db:"name" json:"name"`
	Role       Role      `db:"role" json:"role"`
	IsApproved bool      `db:"is_approved" json:"is_approved"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanAccess reports whether the account may use protected resources.
func (u *User) CanAccess() bool {
	return u.IsAdmin() || u.IsApproved
}

// Bootstrap is the admin account Initialize guarantees.
type Bootstrap struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name"`
}

// Registration is a self-service sign-up.
type Registration struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"required"`
}

// Profile is the admin-editable part of an account. An empty Password
// keeps the current one.
type Profile struct {
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name"`
	Role       Role   `json:"role" validate:"required,oneof=user admin"`
	IsApproved bool   `json:"is_approved"`
	Password   string `json:"password,omitempty" validate:"omitempty,min=6"`
}

func hashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
