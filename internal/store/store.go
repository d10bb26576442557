package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database connection and the registered table
// schemas. All persistence, indexing, and transaction semantics belong to
// SQLite; the store only generates DDL, validates records, and passes
// operations through.
type Store struct {
	*sql.DB
	path string
	mu   sync.RWMutex

	regMu  sync.RWMutex
	tables map[string]*Table

	listenerMu sync.RWMutex
	listeners  []func(Change)
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	// SQLite connection with WAL mode for better concurrency
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite with WAL mode supports concurrent reads but serializes writes
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	s := &Store{
		DB:     db,
		path:   path,
		tables: make(map[string]*Table),
	}

	if err := s.ensureInternalTables(); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("Database connection established")

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Transaction wraps a function in a database transaction.
func (s *Store) Transaction(fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Table returns the registered schema for name, or nil if the table is not
// part of the current schema.
func (s *Store) Table(name string) *Table {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	return s.tables[name]
}

// Tables returns the registered schemas in no particular order.
func (s *Store) Tables() []*Table {
	s.regMu.RLock()
	defer s.regMu.RUnlock()

	out := make([]*Table, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t)
	}
	return out
}

// ensureInternalTables creates the bookkeeping tables the store needs for
// itself: schema version tracking, settings, and API tokens. These names are
// reserved and cannot be declared through the schema API.
func (s *Store) ensureInternalTables() error {
	// The driver handles one statement per Exec, so run them individually.
	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_versions (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tokens (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			token_hash TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create internal tables: %w", err)
		}
	}
	return nil
}
