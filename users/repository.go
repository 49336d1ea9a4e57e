/*
repository.go - Accounts, authentication and the approval workflow

PURPOSE:
  Stores accounts with bcrypt password hashes and enforces the account
  rules the rest of the system relies on.

ACCOUNT RULES:
  1. At least one admin exists at all times. Initialize creates one from
     configuration when there is none, and Delete refuses to remove the
     last one.
  2. Admin status is one-way. No operation may demote an admin or clear
     an admin's approval.
  3. A self-registered account is an unapproved "user" and cannot
     authenticate until an admin approves it.

  Every mutation re-reads the target row inside its own transaction
  before writing, so the checks and the write see the same state.

AUTHENTICATION RESULTS:
  (*User, nil)                 valid and allowed in
  (nil, nil)                   unknown email or wrong password
  (nil, ErrPendingApproval)    valid password, account not approved yet

SEE ALSO:
  - api/auth.go: Login handler that mints a token after Authenticate
*/
package users

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/estimator/core"
)

// Store is the part of the storage engine the repository needs.
type Store interface {
	Open(ctx context.Context) error
	EnsureColumns(ctx context.Context, table string) error
	WithTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error
	Read(ctx context.Context, op string, fn func(db *sqlx.DB) error) error
}

type Options struct {
	BcryptCost int
	Logger     zerolog.Logger
}

type Repository struct {
	store Store
	cost  int
	log   zerolog.Logger
}

func NewRepository(store Store, opts Options) *Repository {
	cost := opts.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Repository{
		store: store,
		cost:  cost,
		log:   opts.Logger.With().Str("component", "users").Logger(),
	}
}

const userColumns = "id, email, password, name, role, is_approved, created_at"

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

// Initialize opens the store, brings the users table up to shape and
// makes sure an admin account exists. When no admin exists and an
// account with the bootstrap email does, that account is promoted
// rather than duplicated.
func (r *Repository) Initialize(ctx context.Context, b Bootstrap) error {
	const op = "users.initialize"

	b.Email = normalizeEmail(b.Email)
	if err := core.Struct(op, b); err != nil {
		return err
	}
	if err := r.store.Open(ctx); err != nil {
		return err
	}
	if err := r.store.EnsureColumns(ctx, "users"); err != nil {
		return err
	}

	return r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		admins, err := countAdmins(ctx, tx)
		if err != nil || admins > 0 {
			return err
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE users SET role = ?, is_approved = 1 WHERE email = ?", RoleAdmin, b.Email)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n > 0 {
			r.log.Info().Str("email", b.Email).Msg("existing account promoted to admin")
			return nil
		}

		hash, err := hashPassword(b.Password, r.cost)
		if err != nil {
			return err
		}
		name := b.Name
		if name == "" {
			name = "Admin"
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO users (email, password, name, role, is_approved) VALUES (?, ?, ?, ?, 1)",
			b.Email, hash, name, RoleAdmin); err != nil {
			return err
		}
		r.log.Info().Str("email", b.Email).Msg("bootstrap admin created")
		return nil
	})
}

// =============================================================================
// SELF SERVICE
// =============================================================================

// Register creates an unapproved account and returns its id.
func (r *Repository) Register(ctx context.Context, email, password, name string) (int64, error) {
	const op = "users.register"

	reg := Registration{Email: normalizeEmail(email), Password: password, Name: strings.TrimSpace(name)}
	if err := core.Struct(op, reg); err != nil {
		return 0, err
	}
	hash, err := hashPassword(reg.Password, r.cost)
	if err != nil {
		return 0, core.E(core.ErrWriteFailed, op, err)
	}

	var id int64
	err = r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO users (email, password, name, role, is_approved) VALUES (?, ?, ?, ?, 0)",
			reg.Email, hash, reg.Name, RoleUser)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Authenticate checks credentials. See the package header for the
// possible outcomes.
func (r *Repository) Authenticate(ctx context.Context, email, password string) (*User, error) {
	const op = "users.authenticate"

	u, err := r.GetByEmail(ctx, email)
	if err != nil || u == nil {
		return nil, err
	}
	if !checkPassword(u.Password, password) {
		return nil, nil
	}
	if !u.CanAccess() {
		return nil, core.E(core.ErrPendingApproval, op, nil).WithID(u.ID)
	}
	return u, nil
}

// =============================================================================
// READS
// =============================================================================

func (r *Repository) Get(ctx context.Context, id int64) (*User, error) {
	return r.getOne(ctx, "users.get", "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getOne(ctx, "users.get_by_email",
		"SELECT "+userColumns+" FROM users WHERE email = ?", normalizeEmail(email))
}

func (r *Repository) getOne(ctx context.Context, op, query string, arg any) (*User, error) {
	var u User
	err := r.store.Read(ctx, op, func(db *sqlx.DB) error {
		return db.GetContext(ctx, &u, query, arg)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// List returns every account, oldest first.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	return r.list(ctx, "users.list", "SELECT "+userColumns+" FROM users ORDER BY created_at, id")
}

// ListPending returns accounts waiting for approval, oldest first.
func (r *Repository) ListPending(ctx context.Context) ([]User, error) {
	return r.list(ctx, "users.list_pending",
		"SELECT "+userColumns+" FROM users WHERE is_approved = 0 AND role = 'user' ORDER BY created_at, id")
}

func (r *Repository) list(ctx context.Context, op, query string) ([]User, error) {
	out := []User{}
	err := r.store.Read(ctx, op, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &out, query)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// ADMINISTRATION
// =============================================================================

type target struct {
	Role       Role `db:"role"`
	IsApproved bool `db:"is_approved"`
}

func loadTarget(ctx context.Context, tx *sqlx.Tx, op string, id int64) (target, error) {
	var t target
	err := tx.GetContext(ctx, &t, "SELECT role, is_approved FROM users WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return t, core.NotFound(op, id)
	}
	return t, err
}

func countAdmins(ctx context.Context, tx *sqlx.Tx) (int, error) {
	var n int
	err := tx.GetContext(ctx, &n, "SELECT COUNT(*) FROM users WHERE role = ?", RoleAdmin)
	return n, err
}

func adminProtected(op string, id int64) error {
	return core.E(core.ErrAdminProtected, op, nil).WithID(id)
}

// Approve lets a pending account in. Approving an approved account is a
// no-op.
func (r *Repository) Approve(ctx context.Context, id int64) error {
	const op = "users.approve"

	return r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		t, err := loadTarget(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if t.Role == RoleAdmin {
			return adminProtected(op, id)
		}
		if t.IsApproved {
			return nil
		}
		_, err = tx.ExecContext(ctx, "UPDATE users SET is_approved = 1 WHERE id = ?", id)
		return err
	})
}

// Deny deletes a pending account.
func (r *Repository) Deny(ctx context.Context, id int64) error {
	const op = "users.deny"

	return r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		t, err := loadTarget(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if t.Role == RoleAdmin {
			return adminProtected(op, id)
		}
		if t.IsApproved {
			return core.E(core.ErrInvalidState, op, errors.New("account is already approved")).WithID(id)
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
		return err
	})
}

// SetRole changes a non-admin's role. Promotion also approves.
func (r *Repository) SetRole(ctx context.Context, id int64, role Role) error {
	const op = "users.set_role"
	if !role.Valid() {
		return core.Validation(op, "role: oneof")
	}

	return r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		t, err := loadTarget(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if t.Role == RoleAdmin {
			return adminProtected(op, id)
		}
		if role == RoleAdmin {
			_, err = tx.ExecContext(ctx, "UPDATE users SET role = ?, is_approved = 1 WHERE id = ?", role, id)
		} else {
			_, err = tx.ExecContext(ctx, "UPDATE users SET role = ? WHERE id = ?", role, id)
		}
		return err
	})
}

// Update rewrites an account's profile. For an admin, the role must stay
// admin and approval must stay set.
func (r *Repository) Update(ctx context.Context, id int64, p Profile) error {
	const op = "users.update"

	p.Email = normalizeEmail(p.Email)
	p.Name = strings.TrimSpace(p.Name)
	if err := core.Struct(op, p); err != nil {
		return err
	}
	if p.Role == RoleAdmin {
		p.IsApproved = true
	}

	var hash string
	if p.Password != "" {
		var err error
		if hash, err = hashPassword(p.Password, r.cost); err != nil {
			return core.E(core.ErrWriteFailed, op, err)
		}
	}

	return r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		t, err := loadTarget(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if t.Role == RoleAdmin && (p.Role != RoleAdmin || !p.IsApproved) {
			return adminProtected(op, id)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE users SET email = ?, name = ?, role = ?, is_approved = ? WHERE id = ?",
			p.Email, p.Name, p.Role, p.IsApproved, id); err != nil {
			return err
		}
		if hash != "" {
			_, err = tx.ExecContext(ctx, "UPDATE users SET password = ? WHERE id = ?", hash, id)
		}
		return err
	})
}

// Delete removes an account. The last admin cannot be deleted.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	const op = "users.delete"

	return r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		t, err := loadTarget(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if t.Role == RoleAdmin {
			admins, err := countAdmins(ctx, tx)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return core.E(core.ErrLastAdmin, op, nil).WithID(id)
			}
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
		return err
	})
}
