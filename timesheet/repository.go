/*
repository.go - Timesheet entry persistence

PURPOSE:
  CRUD for timesheet entries. Entries belong to the user who created
  them; Update and Delete check ownership inside the same transaction
  as the write and fail with core.ErrForbidden for anyone else.

ESTIMATE LINK:
  EstimateID is optional. Deleting the estimate clears the link and
  keeps the entry.

SEE ALSO:
  - entry.go: Entry and the hours calculation
*/
package timesheet

import (
	"context"
	"database/sql"
	"errors"

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

const entryColumns = `id, user_id, estimate_id, date, customer_name, work_order, notes,
	travel_start, travel_start_location, time_in, time_in_location,
	time_out, time_out_location, travel_home, travel_home_location,
	total_hours, created_at, updated_at`

const insertEntry = `INSERT INTO timesheet_entries (
	user_id, estimate_id, date, customer_name, work_order, notes,
	travel_start, travel_start_location, time_in, time_in_location,
	time_out, time_out_location, travel_home, travel_home_location, total_hours
) VALUES (
	:user_id, :estimate_id, :date, :customer_name, :work_order, :notes,
	:travel_start, :travel_start_location, :time_in, :time_in_location,
	:time_out, :time_out_location, :travel_home, :travel_home_location, :total_hours
)`

const updateEntry = `UPDATE timesheet_entries SET
	estimate_id = :estimate_id,
	date = :date,
	customer_name = :customer_name,
	work_order = :work_order,
	notes = :notes,
	travel_start = :travel_start,
	travel_start_location = :travel_start_location,
	time_in = :time_in,
	time_in_location = :time_in_location,
	time_out = :time_out,
	time_out_location = :time_out_location,
	travel_home = :travel_home,
	travel_home_location = :travel_home_location,
	total_hours = :total_hours,
	updated_at = CURRENT_TIMESTAMP
WHERE id = :id`

// Save inserts entry for entry.UserID and returns the new id.
func (r *Repository) Save(ctx context.Context, entry Entry) (int64, error) {
	const op = "timesheet.save"

	if err := core.Struct(op, entry); err != nil {
		return 0, err
	}
	entry.TotalHours = Hours(entry.TimeIn, entry.TimeOut)

	var id int64
	err := r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		if err := checkEstimate(ctx, tx, op, entry.EstimateID); err != nil {
			return err
		}
		res, err := tx.NamedExecContext(ctx, insertEntry, entry)
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

// Update replaces entry id. entry.UserID is the requesting user and must
// own the entry.
func (r *Repository) Update(ctx context.Context, id int64, entry Entry) error {
	const op = "timesheet.update"

	if err := core.Struct(op, entry); err != nil {
		return err
	}
	entry.ID = id
	entry.TotalHours = Hours(entry.TimeIn, entry.TimeOut)

	return r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		if err := checkOwner(ctx, tx, op, id, entry.UserID); err != nil {
			return err
		}
		if err := checkEstimate(ctx, tx, op, entry.EstimateID); err != nil {
			return err
		}
		_, err := tx.NamedExecContext(ctx, updateEntry, entry)
		return err
	})
}

// Delete removes entry id on behalf of userID.
func (r *Repository) Delete(ctx context.Context, id, userID int64) error {
	const op = "timesheet.delete"

	return r.store.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		if err := checkOwner(ctx, tx, op, id, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM timesheet_entries WHERE id = ?", id)
		return err
	})
}

func checkOwner(ctx context.Context, tx *sqlx.Tx, op string, id, userID int64) error {
	var owner int64
	err := tx.GetContext(ctx, &owner, "SELECT user_id FROM timesheet_entries WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.NotFound(op, id)
	}
	if err != nil {
		return err
	}
	if owner != userID {
		return core.E(core.ErrForbidden, op, nil).WithID(id)
	}
	return nil
}

func checkEstimate(ctx context.Context, tx *sqlx.Tx, op string, estimateID *int64) error {
	if estimateID == nil {
		return nil
	}
	var n int
	if err := tx.GetContext(ctx, &n, "SELECT COUNT(*) FROM estimates WHERE id = ?", *estimateID); err != nil {
		return err
	}
	if n == 0 {
		return core.Validation(op, "estimate_id: exists")
	}
	return nil
}

// Get returns entry id, or nil if there is none.
func (r *Repository) Get(ctx context.Context, id int64) (*Entry, error) {
	const op = "timesheet.get"

	var entry Entry
	err := r.store.Read(ctx, op, func(db *sqlx.DB) error {
		return db.GetContext(ctx, &entry, "SELECT "+entryColumns+" FROM timesheet_entries WHERE id = ?", id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns userID's entries dated start..end inclusive (YYYY-MM-DD),
// newest first.
func (r *Repository) List(ctx context.Context, userID int64, start, end string) ([]Entry, error) {
	const op = "timesheet.list"

	bounds := struct {
		Start string `json:"start" validate:"required,datetime=2006-01-02"`
		End   string `json:"end" validate:"required,datetime=2006-01-02"`
	}{start, end}
	if err := core.Struct(op, bounds); err != nil {
		return nil, err
	}

	entries := []Entry{}
	err := r.store.Read(ctx, op, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &entries,
			`SELECT `+entryColumns+` FROM timesheet_entries
			WHERE user_id = ? AND date >= ? AND date <= ?
			ORDER BY date DESC, time_in DESC, id DESC`,
			userID, start, end)
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
