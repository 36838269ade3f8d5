// Package state manages the SQLite database holding the local copy of every
// synchronized collection, plus the signed-in session.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] (or one of its typed [Table] fields) and call its methods.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/njoerd114/medsync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS medications (
    id           TEXT    PRIMARY KEY,
    owner_id     TEXT    NOT NULL,
    name         TEXT    NOT NULL DEFAULT '',
    dosage       TEXT    NOT NULL DEFAULT '',
    form         TEXT    NOT NULL DEFAULT '',
    instructions TEXT    NOT NULL DEFAULT '',
    active       BOOLEAN NOT NULL DEFAULT 1,
    created_at   INTEGER NOT NULL DEFAULT 0,
    updated_at   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS schedules (
    id            TEXT    PRIMARY KEY,
    medication_id TEXT    NOT NULL,
    time_of_day   TEXT    NOT NULL DEFAULT '',
    days_of_week  INTEGER NOT NULL DEFAULT 0,
    enabled       BOOLEAN NOT NULL DEFAULT 1,
    created_at    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS adherence_logs (
    id             TEXT    PRIMARY KEY,
    owner_id       TEXT    NOT NULL,
    medication_id  TEXT    NOT NULL DEFAULT '',
    schedule_id    TEXT    NOT NULL DEFAULT '',
    scheduled_time INTEGER NOT NULL DEFAULT 0,
    taken_time     INTEGER,
    status         TEXT    NOT NULL DEFAULT '',
    timestamp      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS refills (
    id               TEXT    PRIMARY KEY,
    medication_id    TEXT    NOT NULL,
    quantity         INTEGER NOT NULL DEFAULT 0,
    pharmacy         TEXT    NOT NULL DEFAULT '',
    refill_date      INTEGER NOT NULL DEFAULT 0,
    next_refill_date INTEGER NOT NULL DEFAULT 0,
    updated_at       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS reports (
    id             TEXT    PRIMARY KEY,
    owner_id       TEXT    NOT NULL,
    title          TEXT    NOT NULL DEFAULT '',
    period_start   INTEGER NOT NULL DEFAULT 0,
    period_end     INTEGER NOT NULL DEFAULT 0,
    adherence_rate REAL    NOT NULL DEFAULT 0,
    content        TEXT    NOT NULL DEFAULT '',
    created_at     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS session (
    singleton  INTEGER PRIMARY KEY CHECK (singleton = 1),
    owner_id   TEXT    NOT NULL,
    signed_in  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_medications_owner   ON medications (owner_id);
CREATE INDEX IF NOT EXISTS idx_schedules_med       ON schedules (medication_id);
CREATE INDEX IF NOT EXISTS idx_adherence_owner     ON adherence_logs (owner_id, scheduled_time);
CREATE INDEX IF NOT EXISTS idx_refills_med         ON refills (medication_id);
CREATE INDEX IF NOT EXISTS idx_reports_owner       ON reports (owner_id);
`

// Store is the SQLite-backed local store. Each collection is exposed as a
// typed [Table].
type Store struct {
	db *sql.DB

	Medications   *Table[model.Medication]
	Schedules     *Table[model.Schedule]
	AdherenceLogs *Table[model.AdherenceLog]
	Refills       *Table[model.Refill]
	Reports       *Table[model.Report]
}

// DefaultDBPath returns the default path for the local database:
// ~/.local/share/medsync/local.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "medsync", "local.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL. This also serializes the
	// sync engine's per-collection transactions with any other writer in the
	// process.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{
		db:            db,
		Medications:   &Table[model.Medication]{db: db, def: medicationsDef},
		Schedules:     &Table[model.Schedule]{db: db, def: schedulesDef},
		AdherenceLogs: &Table[model.AdherenceLog]{db: db, def: adherenceLogsDef},
		Refills:       &Table[model.Refill]{db: db, def: refillsDef},
		Reports:       &Table[model.Report]{db: db, def: reportsDef},
	}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Counts returns the number of locally stored records per collection.
func (s *Store) Counts(ctx context.Context) (map[model.Collection]int, error) {
	tables := map[model.Collection]string{
		model.Medications:   medicationsDef.name,
		model.Schedules:     schedulesDef.name,
		model.AdherenceLogs: adherenceLogsDef.name,
		model.Refills:       refillsDef.name,
		model.Reports:       reportsDef.name,
	}
	counts := make(map[model.Collection]int, len(tables))
	for c, table := range tables {
		var n int
		// Table names come from the fixed definitions above, never user input.
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		counts[c] = n
	}
	return counts, nil
}

// --- session -----------------------------------------------------------------

// Session returns the signed-in owner, or "" if nobody is signed in.
func (s *Store) Session(ctx context.Context) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM session WHERE singleton = 1`).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading session: %w", err)
	}
	return owner, nil
}

// SetSession records ownerID as the signed-in owner, replacing any previous
// session.
func (s *Store) SetSession(ctx context.Context, ownerID string) error {
	const q = `
		INSERT INTO session (singleton, owner_id, signed_in) VALUES (1, ?, ?)
		ON CONFLICT(singleton) DO UPDATE SET
		    owner_id  = excluded.owner_id,
		    signed_in = excluded.signed_in`
	if _, err := s.db.ExecContext(ctx, q, ownerID, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("writing session for %q: %w", ownerID, err)
	}
	return nil
}

// ClearSession signs the current owner out. Local records are kept.
func (s *Store) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session`); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}
