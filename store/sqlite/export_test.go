package sqlite

import (
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// newWithDB wraps an already opened handle and skips migration.
func newWithDB(db *sqlx.DB, log zerolog.Logger) *Engine {
	return &Engine{path: MemoryPath, busyTimeout: defaultBusyTimeout, log: log, db: db}
}
