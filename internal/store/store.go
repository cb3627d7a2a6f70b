// Package store implements the durable mirror of projects, sessions and
// session messages on SQLite. One connection, serialized writes: concurrent
// callers queue on the store mutex rather than interleaving statements.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codedesk/internal/logging"
)

// Store is the SQLite-backed persistent store.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// defaultBusyTimeout is used when the caller does not supply one.
const defaultBusyTimeout = 5 * time.Second

// New opens (or creates) the database at the given path and brings the
// schema up to date. busyTimeout bounds how long sqlite waits on a locked
// database before failing; zero selects the default.
func New(path string, busyTimeout time.Duration) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.New")
	defer timer.Stop()

	logging.Store("Opening store at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.StoreError("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return open(path, busyTimeout)
}

// NewInMemory opens a fresh in-memory database. Used by tests.
func NewInMemory() (*Store, error) {
	return open(":memory:", defaultBusyTimeout)
}

func open(path string, busyTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection: the store is the single writer of record and
	// in-memory databases evaporate per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds())); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe with WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable sqlite foreign_keys: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.migrate(); err != nil {
		logging.StoreError("Failed to migrate schema: %v", err)
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Database schema up to date")

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logging.Store("Closing store at %s", s.dbPath)
	return s.db.Close()
}

// timestampLayout is fixed width so timestamp strings sort
// lexicographically in chronological order.
const timestampLayout = "2006-01-02 15:04:05.000000000"

// NowUTCString formats the current UTC time the way every timestamp column
// stores it. Timestamps are opaque strings at this layer.
func NowUTCString() string {
	return FormatUTC(time.Now())
}

// FormatUTC renders t in the store's timestamp format.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
