package stubd

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Sentinel errors for registry lookups.
var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

const registrySchema = `
CREATE TABLE IF NOT EXISTS sessions (
	name            TEXT PRIMARY KEY,
	active          INTEGER NOT NULL DEFAULT 0,
	rotation_state  TEXT NOT NULL DEFAULT 'none',
	archive_path    TEXT NOT NULL DEFAULT ''
);
`

// SessionRow is one registered session.
type SessionRow struct {
	Name          string
	Active        bool
	RotationState string
	ArchivePath   string
}

// Registry persists the daemon's live sessions in SQLite. One registry per
// daemon instance, backed by a file in the rundir so that session state
// survives daemon-internal restarts of the accept loop.
type Registry struct {
	db *sql.DB
}

// OpenRegistry creates or opens the session registry at path.
func OpenRegistry(path string) (*Registry, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session registry: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to session registry: %w", err)
	}

	// SQLite supports a single writer; serialize through one connection to
	// avoid SQLITE_BUSY from the rotation goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(registrySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply registry schema: %w", err)
	}

	return &Registry{db: db}, nil
}

// Close closes the registry.
func (r *Registry) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Create registers a new session. A name collision fails with
// ErrSessionExists.
func (r *Registry) Create(name string) error {
	_, err := r.db.Exec("INSERT INTO sessions (name) VALUES (?)", name)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrSessionExists
		}
		return fmt.Errorf("failed to register session %s: %w", name, err)
	}
	return nil
}

// Get returns one session's row.
func (r *Registry) Get(name string) (SessionRow, error) {
	var row SessionRow
	var active int
	err := r.db.QueryRow(
		"SELECT name, active, rotation_state, archive_path FROM sessions WHERE name = ?", name,
	).Scan(&row.Name, &active, &row.RotationState, &row.ArchivePath)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRow{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionRow{}, fmt.Errorf("failed to read session %s: %w", name, err)
	}
	row.Active = active != 0
	return row, nil
}

// SetActive records whether tracing is running for the session.
func (r *Registry) SetActive(name string, active bool) error {
	return r.update(name, "UPDATE sessions SET active = ? WHERE name = ?", boolToInt(active), name)
}

// SetRotation records the session's rotation progress and, once completed,
// the materialized archive path.
func (r *Registry) SetRotation(name, state, archivePath string) error {
	return r.update(name,
		"UPDATE sessions SET rotation_state = ?, archive_path = ? WHERE name = ?",
		state, archivePath, name)
}

// Delete removes the session.
func (r *Registry) Delete(name string) error {
	return r.update(name, "DELETE FROM sessions WHERE name = ?", name)
}

// List returns all registered sessions ordered by name.
func (r *Registry) List() ([]SessionRow, error) {
	rows, err := r.db.Query("SELECT name, active, rotation_state, archive_path FROM sessions ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var row SessionRow
		var active int
		if err := rows.Scan(&row.Name, &active, &row.RotationState, &row.ArchivePath); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		row.Active = active != 0
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Registry) update(name, query string, args ...any) error {
	res, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", name, err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
