/*
quote.go - Legacy quote records

PURPOSE:
  Quotes predate estimates: contact fields, a free-form description and a
  list of items stored as one JSON column. They are kept as a separate,
  simpler record rather than folded into estimates.

STATUS:
  pending -> sent -> accepted | rejected. Any status may be written
  directly; only the value set is enforced.
*/
package quote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/warp/estimator/core"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusSent     Status = "sent"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

type Item struct {
	Description string          `json:"description" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gte=0"`
	Price       decimal.Decimal `json:"price" validate:"gte=0"`
}

type Quote struct {
	ID            int64           `db:"id" json:"id"`
	CustomerName  string          `db:"customer_name" json:"customer_name" validate:"required"`
	CustomerEmail string          `db:"customer_email" json:"customer_email" validate:"omitempty,email"`
	CustomerPhone string          `db:"customer_phone" json:"customer_phone"`
	Description   string          `db:"description" json:"description"`
	Items         []Item          `db:"-" json:"items" validate:"dive"`
	ItemsJSON     string          `db:"items" json:"-"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status        Status          `db:"status" json:"status" validate:"oneof=pending sent accepted rejected"`
	UserID        *int64          `db:"user_id" json:"user_id,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Total sums quantity × price over items, rounded to cents.
func Total(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(core.LineTotal(it.Quantity, it.Price))
	}
	return sum.Round(core.Cents)
}

// Store is the part of the storage engine the repository needs.
type Store interface {
	WithTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error
	Read(ctx context.Context, op string, fn func(db *sqlx.DB) error) error
}

type Repository struct {
	store Store
}

func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

const quoteColumns = `id, customer_name, customer_email, customer_phone, description,
	items, total_amount, status, user_id, created_at`

// prepare validates q and fills the derived columns.
func prepare(op string, q *Quote) error {
	if q.Status == "" {
		q.Status = StatusPending
	}
	if q.Items == nil {
		q.Items = []Item{}
	}
	if err := core.Struct(op, q); err != nil {
		return err
	}
	raw, err := json.Marshal(q.Items)
	if err != nil {
		return core.E(core.ErrValidation, op, err)
	}
	q.ItemsJSON = string(raw)
	q.TotalAmount = Total(q.Items)
	return nil
}

// decode fills Items from the stored JSON. Unreadable JSON from older
// files reads as no items.
func decode(q *Quote) {
	q.Items = []Item{}
	if q.ItemsJSON == "" {
		return
	}
	if err := json.Unmarshal([]byte(q.ItemsJSON), &q.Items); err != nil {
		q.Items = []Item{}
	}
}

func (r *Repository) Create(ctx context.Context, q Quote) (int64, error) {
	const op = "quote.create"
	if err := prepare(op, &q); err != nil {
		return 0, err
	}

	var id int64
	err := r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `INSERT INTO quotes (
			customer_name, customer_email, customer_phone, description, items, total_amount, status, user_id
		) VALUES (
			:customer_name, :customer_email, :customer_phone, :description, :items, :total_amount, :status, :user_id
		)`, q)
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

// Get returns quote id, or nil if there is none.
func (r *Repository) Get(ctx context.Context, id int64) (*Quote, error) {
	const op = "quote.get"

	var q Quote
	err := r.store.Read(ctx, op, func(db *sqlx.DB) error {
		return db.GetContext(ctx, &q, "SELECT "+quoteColumns+" FROM quotes WHERE id = ?", id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	decode(&q)
	return &q, nil
}

// List returns every quote, newest first.
func (r *Repository) List(ctx context.Context) ([]Quote, error) {
	const op = "quote.list"

	quotes := []Quote{}
	err := r.store.Read(ctx, op, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &quotes,
			"SELECT "+quoteColumns+" FROM quotes ORDER BY created_at DESC, id DESC")
	})
	if err != nil {
		return nil, err
	}
	for i := range quotes {
		decode(&quotes[i])
	}
	return quotes, nil
}

// Update replaces quote id. The owning user is not changed.
func (r *Repository) Update(ctx context.Context, id int64, q Quote) error {
	const op = "quote.update"
	if err := prepare(op, &q); err != nil {
		return err
	}
	q.ID = id

	return r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `UPDATE quotes SET
			customer_name = :customer_name,
			customer_email = :customer_email,
			customer_phone = :customer_phone,
			description = :description,
			items = :items,
			total_amount = :total_amount,
			status = :status
		WHERE id = :id`, q)
		if err != nil {
			return err
		}
		return requireRow(res, op, id)
	})
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	const op = "quote.delete"

	return r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM quotes WHERE id = ?", id)
		if err != nil {
			return err
		}
		return requireRow(res, op, id)
	})
}

func requireRow(res sql.Result, op string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.NotFound(op, id)
	}
	return nil
}
