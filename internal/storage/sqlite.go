package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the alert journal. It keeps every alert ever raised, independent
// of what the in-memory notification log still shows.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the journal database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "facewatch.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One writer; evidence workers serialize through this connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	applied, err := s.AppliedMigrations()
	if err != nil {
		return fmt.Errorf("reading schema_version: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	// fs.Glob returns names in lexical order, which is version order.
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("listing migrations: %w", err)
	}
	for _, name := range names {
		version, err := parseMigrationVersion(path.Base(name))
		if err != nil {
			return err
		}
		if done[version] {
			continue
		}
		if err := s.applyMigration(version, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(version int, name string) error {
	content, err := migrationsFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", name, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	prefix, _, ok := strings.Cut(filename, "_")
	if !ok {
		return 0, fmt.Errorf("migration %q has no version prefix", filename)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Alerts ---

const alertColumns = `id, identity, detected_at, image_path, audio_path, location, distance`

// SaveAlert journals an alert. The ID is assigned by the caller.
func (s *Store) SaveAlert(a Alert) error {
	_, err := s.db.Exec(`
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Identity, a.DetectedAt.UTC().Format(time.RFC3339Nano),
		a.ImagePath, a.AudioPath, a.Location, a.Distance,
	)
	return err
}

// GetAlert returns the alert with the given ID.
func (s *Store) GetAlert(id int64) (Alert, error) {
	row := s.db.QueryRow(`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return Alert{}, ErrNotFound
	}
	return a, err
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *Store) RecentAlerts(limit int) ([]Alert, error) {
	rows, err := s.db.Query(`SELECT `+alertColumns+` FROM alerts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// AlertsByIdentity returns up to limit alerts for one identity, newest first.
func (s *Store) AlertsByIdentity(identity string, limit int) ([]Alert, error) {
	rows, err := s.db.Query(`SELECT `+alertColumns+` FROM alerts WHERE identity = ? ORDER BY id DESC LIMIT ?`, identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// MaxAlertID returns the highest journaled alert ID, or 0 for an empty journal.
func (s *Store) MaxAlertID() (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(id) FROM alerts`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// CountAlerts returns the number of journaled alerts.
func (s *Store) CountAlerts() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(r rowScanner) (Alert, error) {
	var a Alert
	var detectedAt string
	if err := r.Scan(&a.ID, &a.Identity, &detectedAt, &a.ImagePath, &a.AudioPath, &a.Location, &a.Distance); err != nil {
		return Alert{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, detectedAt)
	if err != nil {
		return Alert{}, fmt.Errorf("parsing detected_at: %w", err)
	}
	a.DetectedAt = t
	return a, nil
}
