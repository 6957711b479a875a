// Package persist saves and loads storage record snapshots to SQLite.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"mudcore/internal/logging"
	"mudcore/internal/storage"
)

// Supported database/sql driver names.
const (
	DriverCGO  = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPure = "sqlite"  // modernc.org/sqlite
)

// Store persists record snapshots.
type Store struct {
	db     *sql.DB
	dbPath string
	driver string
	mu     sync.RWMutex
}

// NewStore creates or opens the record database at dbPath with the named
// driver. An empty driver selects DriverPure.
func NewStore(driver, dbPath string) (*Store, error) {
	if driver == "" {
		driver = DriverPure
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := dbPath
	switch driver {
	case DriverCGO:
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	case DriverPure:
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	default:
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db, dbPath: dbPath, driver: driver}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logging.PersistDebug("opened %s with driver %s", dbPath, driver)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		binding TEXT NOT NULL,
		generation INTEGER NOT NULL,
		flags INTEGER NOT NULL,
		properties_json TEXT NOT NULL,
		saved_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_binding ON records(binding);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save replaces the stored snapshot with states in one transaction.
func (s *Store) Save(ctx context.Context, states []storage.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (id, binding, generation, flags, properties_json, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, st := range states {
		props, err := json.Marshal(st.Properties)
		if err != nil {
			return fmt.Errorf("record %s: failed to encode properties: %w", st.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, string(st.ID), st.Binding, int64(st.Generation), int64(st.Flags), string(props), now); err != nil {
			return fmt.Errorf("record %s: failed to save: %w", st.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit save: %w", err)
	}
	logging.Persist("saved %d records to %s", len(states), s.dbPath)
	return nil
}

// Load returns the stored snapshot ordered by id. Numbers in properties
// come back as float64.
func (s *Store) Load(ctx context.Context) ([]storage.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, binding, generation, flags, properties_json
		FROM records ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	defer rows.Close()

	var out []storage.State
	for rows.Next() {
		var (
			id, binding, props string
			generation, flags  int64
		)
		if err := rows.Scan(&id, &binding, &generation, &flags, &props); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		st := storage.State{
			ID:         storage.ID(id),
			Binding:    binding,
			Generation: uint64(generation),
			Flags:      storage.Flags(flags),
		}
		if err := json.Unmarshal([]byte(props), &st.Properties); err != nil {
			return nil, fmt.Errorf("record %s: failed to decode properties: %w", id, err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logging.PersistDebug("loaded %d records from %s", len(out), s.dbPath)
	return out, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}
