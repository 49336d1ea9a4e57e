/*
Package sqlite is the storage engine behind every repository.

PURPOSE:
  Owns the single SQLite database file: opening it, bringing its schema
  up to date, and running repository work inside transactions with a
  consistent error classification.

LIFECYCLE:
  engine := sqlite.New(sqlite.Options{Path: "./data/estimates.db", Logger: log})
  if err := engine.Open(ctx); err != nil {
      return err // StorageUnavailable or MigrationFailed
  }
  defer engine.Close()

  Open is idempotent. WithTx and Read open the engine lazily, so a
  repository built on an unopened engine still works.

TRANSACTIONS:
  WithTx runs fn inside one transaction. fn returning an error rolls
  everything back; the error is then classified:
  - already a core.Error with a kind      -> returned unchanged
  - UNIQUE constraint failure             -> UniqueViolation
  - anything else                         -> WriteFailed (and logged)

CONCURRENCY:
  The pool is pinned to one connection and writers are serialized by a
  mutex. Never call Read from inside a WithTx callback: the callback
  already holds the only connection.

WAL MODE:
  The DSN enables WAL, foreign keys and a busy timeout so a second
  process touching the same file waits instead of failing immediately.

SEE ALSO:
  - schema.go: Declarative current schema
  - migrate.go: Version gate and generic rebuild
*/
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/warp/estimator/core"
)

const (
	// MemoryPath opens a private in-memory database.
	MemoryPath = ":memory:"

	defaultBusyTimeout = 5 * time.Second
)

// Options configures an Engine.
type Options struct {
	Path        string
	BusyTimeout time.Duration
	Logger      zerolog.Logger
}

// Engine owns the database handle.
type Engine struct {
	path        string
	busyTimeout time.Duration
	log         zerolog.Logger

	openMu sync.Mutex
	db     *sqlx.DB

	writeMu sync.Mutex
}

// New creates an unopened engine. Use MemoryPath for an in-memory database.
func New(opts Options) *Engine {
	timeout := opts.BusyTimeout
	if timeout <= 0 {
		timeout = defaultBusyTimeout
	}
	return &Engine{
		path:        opts.Path,
		busyTimeout: timeout,
		log:         opts.Logger.With().Str("component", "store").Logger(),
	}
}

// Path returns the database location the engine was configured with.
func (e *Engine) Path() string {
	return e.path
}

// Open connects to the database and migrates it to CurrentSchemaVersion.
// Calling Open on an open engine does nothing.
func (e *Engine) Open(ctx context.Context) error {
	_, err := e.handle(ctx)
	return err
}

func (e *Engine) handle(ctx context.Context) (*sqlx.DB, error) {
	e.openMu.Lock()
	defer e.openMu.Unlock()

	if e.db != nil {
		return e.db, nil
	}

	const op = "store.open"
	if e.path == "" {
		return nil, core.E(core.ErrStorageUnavailable, op, errors.New("empty database path"))
	}
	if e.path != MemoryPath {
		if err := probeDir(filepath.Dir(e.path)); err != nil {
			return nil, core.E(core.ErrStorageUnavailable, op, err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d",
		e.path, e.busyTimeout.Milliseconds())
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, core.E(core.ErrStorageUnavailable, op, err)
	}
	// One connection: keeps :memory: a single database and serializes
	// writers at the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, core.E(core.ErrStorageUnavailable, op, err)
	}

	if err := e.migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	e.log.Info().Str("path", e.path).Int("schema", CurrentSchemaVersion).Msg("database opened")
	e.db = db
	return db, nil
}

func probeDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("data directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Close releases the database. It is safe to call more than once.
func (e *Engine) Close() error {
	e.openMu.Lock()
	defer e.openMu.Unlock()

	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

// SchemaVersion reports PRAGMA user_version.
func (e *Engine) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := e.Read(ctx, "store.schema_version", func(db *sqlx.DB) error {
		return db.GetContext(ctx, &v, "PRAGMA user_version")
	})
	return v, err
}

// =============================================================================
// EXECUTION
// =============================================================================

// WithTx runs fn inside a transaction. Any error from fn rolls back every
// statement fn issued.
func (e *Engine) WithTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	db, err := e.handle(ctx)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return e.classify(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return e.classify(op, err)
	}

	if err := tx.Commit(); err != nil {
		return e.classify(op, err)
	}
	return nil
}

// Read runs fn against the database outside a transaction.
func (e *Engine) Read(ctx context.Context, op string, fn func(db *sqlx.DB) error) error {
	db, err := e.handle(ctx)
	if err != nil {
		return err
	}
	if err := fn(db); err != nil {
		if core.IsClassified(err) {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (e *Engine) classify(op string, err error) error {
	if core.IsClassified(err) {
		return err
	}
	if isUniqueConstraintError(err) {
		return core.E(core.ErrUniqueViolation, op, err)
	}
	e.log.Error().Err(err).Str("op", op).Msg("write failed")
	return core.E(core.ErrWriteFailed, op, err)
}

// EnsureColumns adds any column of the named table that the live table
// lacks. It is for tables that other tools may have created by hand.
func (e *Engine) EnsureColumns(ctx context.Context, table string) error {
	op := "store.ensure_columns"
	def, ok := LookupTable(table)
	if !ok {
		return core.E(core.ErrWriteFailed, op, fmt.Errorf("unknown table %q", table))
	}

	return e.WithTx(ctx, op, func(tx *sqlx.Tx) error {
		have, err := tableColumns(ctx, tx, table)
		if err != nil {
			return err
		}
		if len(have) == 0 {
			if _, err := tx.ExecContext(ctx, def.CreateSQL()); err != nil {
				return err
			}
			return nil
		}
		for _, col := range def.Columns {
			if have[col.Name] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, col.addDefinition())
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("add %s.%s: %w", table, col.Name, err)
			}
			e.log.Info().Str("table", table).Str("column", col.Name).Msg("column added")
		}
		return nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
