/*
migrate.go - Schema versioning and the generic rebuild migration

PURPOSE:
  Brings a database file written by any older release up to
  CurrentSchemaVersion without per-version migration code.

HOW A REBUILD WORKS:
  On one pinned connection, with foreign keys off, inside one transaction:
  1. Snapshot every existing table named in Schema as column->value maps
  2. Drop those tables
  3. Create the full current Schema (tables + indexes)
  4. Reinsert the snapshots, matching old columns by name, by their
     snake_case form (estimateId -> estimate_id) or by Column.Aliases,
     and coercing values to the new column type. Missing columns get
     Column.Fallback, or "" / 0 / NULL by type. Fold columns are
     trimmed and lowercased, so case variants of one email collide
  5. Prune orphans per foreign key action (CASCADE deletes, SET NULL clears)
  6. Run each table's Derive statements
  7. PRAGMA foreign_key_check, then PRAGMA user_version = current
  Any failure rolls everything back and surfaces ErrMigrationFailed.

VERSION GATE:
  user_version == current  -> nothing to do
  user_version <  current  -> rebuild (a fresh file is a rebuild of nothing)
  user_version >  current  -> refuse; the file belongs to a newer binary
*/
package sqlite

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jmoiron/sqlx"

	"github.com/warp/estimator/core"
)

const opMigrate = "store.migrate"

func (e *Engine) migrate(ctx context.Context, db *sqlx.DB) error {
	conn, err := db.Connx(ctx)
	if err != nil {
		return core.E(core.ErrMigrationFailed, opMigrate, err)
	}
	defer conn.Close()

	var version int
	if err := conn.GetContext(ctx, &version, "PRAGMA user_version"); err != nil {
		return core.E(core.ErrMigrationFailed, opMigrate, fmt.Errorf("read user_version: %w", err))
	}

	switch {
	case version == CurrentSchemaVersion:
		return nil
	case version > CurrentSchemaVersion:
		return core.E(core.ErrMigrationFailed, opMigrate,
			fmt.Errorf("database schema v%d is newer than supported v%d", version, CurrentSchemaVersion))
	}

	start := time.Now()
	carried, err := e.rebuild(ctx, conn, version)
	if err != nil {
		e.log.Error().Err(err).Int("from", version).Int("to", CurrentSchemaVersion).Msg("schema migration failed")
		return core.E(core.ErrMigrationFailed, opMigrate, err)
	}

	e.log.Info().
		Int("from", version).
		Int("to", CurrentSchemaVersion).
		Interface("rows", carried).
		Dur("took", time.Since(start)).
		Msg("schema migrated")
	return nil
}

func (e *Engine) rebuild(ctx context.Context, conn *sqlx.Conn, from int) (map[string]int, error) {
	// foreign_keys is a no-op inside a transaction, so flip it on the
	// connection first.
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}
	defer conn.ExecContext(context.Background(), "PRAGMA foreign_keys = ON")

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	snapshots := make(map[string][]map[string]any)
	for _, t := range Schema {
		exists, err := tableExists(ctx, tx, t.Name)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		rows, err := snapshotRows(ctx, tx, t.Name)
		if err != nil {
			return nil, err
		}
		snapshots[t.Name] = rows
		if _, err := tx.ExecContext(ctx, "DROP TABLE "+t.Name); err != nil {
			return nil, fmt.Errorf("drop %s: %w", t.Name, err)
		}
	}

	if err := createSchema(ctx, tx); err != nil {
		return nil, err
	}

	carried := make(map[string]int, len(snapshots))
	now := time.Now().UTC()
	for _, t := range Schema {
		rows := snapshots[t.Name]
		if len(rows) == 0 {
			continue
		}
		if err := reinsert(ctx, tx, t, rows, now); err != nil {
			return nil, err
		}
		carried[t.Name] = len(rows)
	}

	for _, t := range Schema {
		if err := pruneOrphans(ctx, tx, t); err != nil {
			return nil, err
		}
		if len(snapshots[t.Name]) == 0 {
			continue
		}
		for _, stmt := range t.Derive {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return nil, fmt.Errorf("derive %s: %w", t.Name, err)
			}
		}
	}

	if err := foreignKeyCheck(ctx, tx); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", CurrentSchemaVersion)); err != nil {
		return nil, fmt.Errorf("set user_version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return carried, nil
}

func createSchema(ctx context.Context, tx *sqlx.Tx) error {
	for _, t := range Schema {
		if _, err := tx.ExecContext(ctx, t.CreateSQL()); err != nil {
			return fmt.Errorf("create %s: %w", t.Name, err)
		}
		for _, idx := range t.Indexes {
			if _, err := tx.ExecContext(ctx, idx); err != nil {
				return fmt.Errorf("index on %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

func tableExists(ctx context.Context, q sqlx.QueryerContext, name string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name)
	if err != nil {
		return false, fmt.Errorf("lookup table %s: %w", name, err)
	}
	return n > 0, nil
}

func tableColumns(ctx context.Context, q sqlx.QueryerContext, name string) (map[string]bool, error) {
	rows, err := q.QueryxContext(ctx, "SELECT name FROM pragma_table_info(?)", name)
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", name, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		cols[col] = true
	}
	return cols, rows.Err()
}

func snapshotRows(ctx context.Context, tx *sqlx.Tx, table string) ([]map[string]any, error) {
	rows, err := tx.QueryxContext(ctx, "SELECT * FROM "+table)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		raw := make(map[string]any)
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row := make(map[string]any, len(raw))
		for k, v := range raw {
			row[snakeCase(k)] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func reinsert(ctx context.Context, tx *sqlx.Tx, t Table, rows []map[string]any, now time.Time) error {
	names := t.columnNames()
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.Name, strings.Join(names, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", "))

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", t.Name, err)
	}
	defer stmt.Close()

	// Every row with an empty unique column is reported, by id.
	var blank []string
	args := make([]any, len(t.Columns))
	for _, row := range rows {
		skip := false
		for j, col := range t.Columns {
			v, ok := lookup(row, col)
			args[j] = coerce(col, v, ok, now)
			if col.Unique && args[j] == "" {
				blank = append(blank, fmt.Sprintf("id=%v: empty %s", row["id"], col.Name))
				skip = true
			}
		}
		if skip {
			continue
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("reinsert %s id=%v: %w", t.Name, row["id"], err)
		}
	}
	if len(blank) > 0 {
		return fmt.Errorf("reinsert %s: %s", t.Name, strings.Join(blank, "; "))
	}
	return nil
}

func pruneOrphans(ctx context.Context, tx *sqlx.Tx, t Table) error {
	for _, fk := range t.ForeignKeys {
		var stmt string
		switch fk.OnDelete {
		case Cascade:
			stmt = fmt.Sprintf("DELETE FROM %s WHERE %s IS NOT NULL AND %s NOT IN (SELECT id FROM %s)",
				t.Name, fk.Column, fk.Column, fk.RefTable)
		case SetNull:
			stmt = fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s IS NOT NULL AND %s NOT IN (SELECT id FROM %s)",
				t.Name, fk.Column, fk.Column, fk.Column, fk.RefTable)
		default:
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("prune %s.%s: %w", t.Name, fk.Column, err)
		}
	}
	return nil
}

func foreignKeyCheck(ctx context.Context, tx *sqlx.Tx) error {
	rows, err := tx.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("foreign_key_check: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		return fmt.Errorf("foreign key violations remain after migration")
	}
	return rows.Err()
}

// =============================================================================
// VALUE RECOVERY
// =============================================================================

func lookup(row map[string]any, col Column) (any, bool) {
	if v, ok := row[col.Name]; ok {
		return v, true
	}
	for _, alias := range col.Aliases {
		if v, ok := row[snakeCase(alias)]; ok {
			return v, true
		}
	}
	return nil, false
}

// coerce converts a value read under an old schema into one acceptable to
// col. Unparseable values degrade to the column's fallback.
func coerce(col Column, v any, present bool, now time.Time) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if col.PrimaryKey {
		return v
	}
	if col.Nullable {
		if n, ok := toInt(v); ok && n != 0 {
			return n
		}
		return nil
	}
	if !present || v == nil {
		return fallback(col, now)
	}

	switch col.Type {
	case Text:
		if col.Fold {
			return strings.ToLower(strings.TrimSpace(toText(v)))
		}
		return toText(v)
	case Real:
		if f, ok := toFloat(v); ok {
			return f
		}
	case Integer, Bool:
		if n, ok := toInt(v); ok {
			return n
		}
	case Timestamp:
		if s, ok := v.(string); ok && s == "" {
			break
		}
		return v
	}
	return fallback(col, now)
}

func fallback(col Column, now time.Time) any {
	if col.Fallback != nil {
		return col.Fallback
	}
	switch col.Type {
	case Real:
		return float64(0)
	case Integer, Bool:
		return int64(0)
	case Timestamp:
		return now
	default:
		return ""
	}
}

func toText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05")
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(strings.ToLower(x))
		switch s {
		case "true":
			return 1, true
		case "false":
			return 0, true
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

// snakeCase maps legacy camelCase column names (billToAddress) onto the
// current snake_case names (bill_to_address).
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 && s[i-1] != '_' {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
