// Package storage provides persistent storage for the Scoundrel trading-state
// subsystem, backed by an embedded SQLite database with WAL journaling.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/scoundrel-labs/scoundrel/pkg/logging"
)

// Storage provides persistent storage for the trading core.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	log    *logging.Logger
}

// Config holds storage configuration.
type Config struct {
	DataDir string
	// DBFileName overrides the default database file name ("scoundrel.db").
	DBFileName string
}

// New opens (creating if necessary) the database at cfg.DataDir and ensures
// the schema is current.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	fileName := cfg.DBFileName
	if fileName == "" {
		fileName = "scoundrel.db"
	}
	dbPath := filepath.Join(dataDir, fileName)

	// WAL journaling, normal sync, a busy timeout above the floor the
	// resolver/recorder retry-once behavior assumes, and foreign keys on
	// since the schema references them.
	dsn := dbPath + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite allows only one writer; a single pooled connection keeps every
	// statement (including the trigger-driven rollup writes) serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
		log:    logging.GetDefault().Component("storage"),
	}

	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection, for callers (migrations,
// tests) that need raw access.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Path returns the on-disk path of the database file.
func (s *Storage) Path() string {
	return s.dbPath
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
