package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// MemoryPath opens a private in-memory database, used by tests.
const MemoryPath = ":memory:"

const (
	dirPerm  = 0o750
	filePerm = 0o600

	pingTimeout = 5 * time.Second
)

// DB is the run journal's SQLite handle.
type DB struct {
	*sql.DB
	path string
}

// Config maps the journal section of config.yaml.
type Config struct {
	// Path is the database file, or MemoryPath. Missing parent
	// directories are created.
	Path string

	// WALMode lets API readers proceed while the supervisor writes.
	WALMode bool

	// BusyTimeout is how long, in seconds, to wait on a locked database.
	BusyTimeout int
}

func (c Config) inMemory() bool {
	return c.Path == MemoryPath
}

// dsn builds the go-sqlite3 connection string for c.
func (c Config) dsn() string {
	params := url.Values{}
	params.Set("_busy_timeout", strconv.Itoa(c.BusyTimeout*1000))
	params.Set("_foreign_keys", "on")
	if c.WALMode && !c.inMemory() {
		params.Set("_journal_mode", "WAL")
		params.Set("_synchronous", "NORMAL")
	}
	return "file:" + c.Path + "?" + params.Encode()
}

// Open opens (creating if needed) the database at cfg.Path and checks it
// answers. The file is restricted to its owner.
//
// Parameters:
//   - cfg: Journal database settings; MemoryPath opens an in-memory database
//
// Returns:
//   - *DB: Connected database wrapper
//   - error: If the directory, the file or the ping fails
func Open(cfg Config) (*DB, error) {
	if !cfg.inMemory() {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPerm); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}
	// SQLite has one writer, and an in-memory database lives only on the
	// connection that created it.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("opening journal database %s: %w", cfg.Path, err)
	}

	if !cfg.inMemory() {
		_ = os.Chmod(cfg.Path, filePerm) //nolint:errcheck // the file appears on first write
	}
	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// Close closes the database. It is safe on a zero DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing journal database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs SQLite's quick integrity check.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("journal health check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("journal health check: %s", result)
	}
	return nil
}
