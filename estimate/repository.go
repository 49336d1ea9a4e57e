/*
repository.go - Estimate and line item persistence

PURPOSE:
  CRUD and numbering for estimates. An estimate and its line items are
  always written together in one transaction, and line items are never
  patched individually: Update deletes every item and inserts the new
  set.

NUMBERING:
  Numbers are "{year}-{seq}" with seq zero padded to three digits.
  NextNumber takes the largest numeric suffix for the year, so
  "2024-1000" sorts after "2024-999". Deleting an estimate leaves a gap.

ABSENCE:
  Get returns (nil, nil) for an unknown id. Update and Delete treat an
  unknown id as core.ErrNotFound.

SEE ALSO:
  - store/sqlite: WithTx / Read
  - types.go: Estimate, LineItem, totals
*/
package estimate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/warp/estimator/core"
)

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

const estimateColumns = `id, number, date, po, sales_rep, customer_name, customer_email,
	customer_phone, bill_to_address, work_ship_address, scope_of_work, exclusions,
	sales_tax, total_amount, created_at, updated_at`

// Newest first. The suffix is compared as an integer so that 1000+ sorts
// after 999 within a year.
const listOrder = `ORDER BY date DESC, substr(number, 1, 4) DESC,
	CAST(substr(number, 6) AS INTEGER) DESC, id DESC`

const insertEstimate = `INSERT INTO estimates (
	number, date, po, sales_rep, customer_name, customer_email, customer_phone,
	bill_to_address, work_ship_address, scope_of_work, exclusions, sales_tax, total_amount
) VALUES (
	:number, :date, :po, :sales_rep, :customer_name, :customer_email, :customer_phone,
	:bill_to_address, :work_ship_address, :scope_of_work, :exclusions, :sales_tax, :total_amount
)`

const updateEstimate = `UPDATE estimates SET
	number = :number,
	date = :date,
	po = :po,
	sales_rep = :sales_rep,
	customer_name = :customer_name,
	customer_email = :customer_email,
	customer_phone = :customer_phone,
	bill_to_address = :bill_to_address,
	work_ship_address = :work_ship_address,
	scope_of_work = :scope_of_work,
	exclusions = :exclusions,
	sales_tax = :sales_tax,
	total_amount = :total_amount,
	updated_at = CURRENT_TIMESTAMP
WHERE id = :id`

const insertItem = `INSERT INTO line_items (estimate_id, position, quantity, description, price, total)
VALUES (:estimate_id, :position, :quantity, :description, :price, :total)`

// =============================================================================
// WRITES
// =============================================================================

// Save inserts est with items and returns the new id.
func (r *Repository) Save(ctx context.Context, est Estimate, items []LineItem) (int64, error) {
	const op = "estimate.save"

	est.Items = append([]LineItem(nil), items...)
	if err := core.Struct(op, est); err != nil {
		return 0, err
	}
	est.ComputeTotals()

	var id int64
	err := r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, insertEstimate, est)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return insertItems(ctx, tx, id, est.Items)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Update replaces every field and every line item of estimate id.
func (r *Repository) Update(ctx context.Context, id int64, est Estimate, items []LineItem) (bool, error) {
	const op = "estimate.update"

	est.ID = id
	est.Items = append([]LineItem(nil), items...)
	if err := core.Struct(op, est); err != nil {
		return false, err
	}
	est.ComputeTotals()

	err := r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, updateEstimate, est)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return core.NotFound(op, id)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM line_items WHERE estimate_id = ?", id); err != nil {
			return err
		}
		return insertItems(ctx, tx, id, est.Items)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes estimate id. Its line items go with it and timesheet
// entries referencing it are unlinked.
func (r *Repository) Delete(ctx context.Context, id int64) (bool, error) {
	const op = "estimate.delete"

	err := r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM estimates WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return core.NotFound(op, id)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func insertItems(ctx context.Context, tx *sqlx.Tx, estimateID int64, items []LineItem) error {
	for i := range items {
		items[i].EstimateID = estimateID
		if _, err := tx.NamedExecContext(ctx, insertItem, items[i]); err != nil {
			return fmt.Errorf("insert line item %d: %w", i, err)
		}
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns estimate id with its items in input order, or nil if there
// is no such estimate.
func (r *Repository) Get(ctx context.Context, id int64) (*Estimate, error) {
	const op = "estimate.get"

	var est Estimate
	err := r.store.Read(ctx, op, func(db *sqlx.DB) error {
		err := db.GetContext(ctx, &est, "SELECT "+estimateColumns+" FROM estimates WHERE id = ?", id)
		if err != nil {
			return err
		}
		return db.SelectContext(ctx, &est.Items,
			"SELECT * FROM line_items WHERE estimate_id = ? ORDER BY position, id", id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if est.Items == nil {
		est.Items = []LineItem{}
	}
	return &est, nil
}

// List returns every estimate, newest first.
func (r *Repository) List(ctx context.Context) ([]Estimate, error) {
	return r.list(ctx, "estimate.list", "SELECT "+estimateColumns+" FROM estimates "+listOrder)
}

// ListPage returns at most limit estimates, newest first, skipping offset.
func (r *Repository) ListPage(ctx context.Context, limit, offset int) ([]Estimate, error) {
	const op = "estimate.list_page"
	if limit <= 0 {
		return nil, core.Validation(op, "limit")
	}
	if offset < 0 {
		return nil, core.Validation(op, "offset")
	}
	return r.list(ctx, op, "SELECT "+estimateColumns+" FROM estimates "+listOrder+" LIMIT ? OFFSET ?", limit, offset)
}

func (r *Repository) list(ctx context.Context, op, query string, args ...any) ([]Estimate, error) {
	var (
		estimates []Estimate
		items     []LineItem
	)
	err := r.store.Read(ctx, op, func(db *sqlx.DB) error {
		if err := db.SelectContext(ctx, &estimates, query, args...); err != nil {
			return err
		}
		if len(estimates) == 0 {
			return nil
		}
		return db.SelectContext(ctx, &items, "SELECT * FROM line_items ORDER BY estimate_id, position, id")
	})
	if err != nil {
		return nil, err
	}

	byEstimate := make(map[int64][]LineItem, len(estimates))
	for _, it := range items {
		byEstimate[it.EstimateID] = append(byEstimate[it.EstimateID], it)
	}

	out := make([]Estimate, len(estimates))
	for i, est := range estimates {
		est.Items = byEstimate[est.ID]
		if est.Items == nil {
			est.Items = []LineItem{}
		}
		// Rows carried over from older files may have no cached total.
		if est.TotalAmount.IsZero() && len(est.Items) > 0 {
			est.TotalAmount = core.WithTax(est.Subtotal(), est.SalesTax)
		}
		out[i] = est
	}
	return out, nil
}

// NextNumber returns the number the next estimate of year should get.
func (r *Repository) NextNumber(ctx context.Context, year int) (string, error) {
	const op = "estimate.next_number"
	if year < 1 || year > 9999 {
		return "", core.Validation(op, "year")
	}

	prefix := fmt.Sprintf("%04d-", year)
	var last int64
	err := r.store.Read(ctx, op, func(db *sqlx.DB) error {
		return db.GetContext(ctx, &last,
			`SELECT COALESCE(MAX(CAST(substr(number, ?) AS INTEGER)), 0)
			FROM estimates WHERE substr(number, 1, ?) = ?`,
			len(prefix)+1, len(prefix), prefix)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%03d", prefix, last+1), nil
}
