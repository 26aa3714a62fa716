// Package db is the sqlite persistence layer: it stores the latest state
// snapshot plus an append-only audit log, and plugs into the state store as
// its Persister.
package db

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"groundctl/pkg/services/state"
)

//go:embed schema.sql
var schemaFS embed.FS

type Service struct {
	DB     *sql.DB
	DBPath string
}

type Config struct {
	DBPath         string
	MaxOpenConns   int
	MaxIdleConns   int
	AutoInitialize bool
}

func DefaultConfig() *Config {
	return &Config{
		DBPath:         "./data/groundctl.db",
		MaxOpenConns:   1, // sqlite serializes writes anyway
		MaxIdleConns:   1,
		AutoInitialize: true,
	}
}

func New(config *Config) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}

	service := &Service{DBPath: config.DBPath}

	dbExists := fileExists(config.DBPath)
	if err := os.MkdirAll(filepath.Dir(config.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(0)
	service.DB = db

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if !dbExists && config.AutoInitialize {
		log.Println("[DB] Database not found, initializing schema...")
		if err := service.InitializeSchema(); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	log.Printf("[DB] Database service initialized: %s", config.DBPath)
	return service, nil
}

// InitializeSchema executes the embedded schema file.
func (s *Service) InitializeSchema() error {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}
	if _, err := s.DB.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// VerifySchema checks that the persistence tables exist.
func (s *Service) VerifySchema() error {
	for _, table := range []string{"state_snapshots", "state_audit"} {
		var exists int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := s.DB.QueryRow(query, table).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if exists == 0 {
			return fmt.Errorf("required table missing: %s", table)
		}
	}
	return nil
}

// Persist implements state.Persister: the snapshot row is replaced and the
// triggering mutation is appended to the audit log, atomically.
func (s *Service) Persist(tree map[string]any, entry state.AuditEntry) error {
	treeJSON, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to marshal state tree: %w", err)
	}
	oldJSON, _ := json.Marshal(entry.OldValue)
	newJSON, _ := json.Marshal(entry.NewValue)

	return s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`REPLACE INTO state_snapshots (id, tree, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)`,
			string(treeJSON),
		); err != nil {
			return fmt.Errorf("failed to store snapshot: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO state_audit (key, old_value, new_value, recorded_at) VALUES (?, ?, ?, ?)`,
			entry.Key, string(oldJSON), string(newJSON), entry.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to append audit row: %w", err)
		}
		return nil
	})
}

// LoadSnapshot returns the persisted state tree, or nil when none exists yet.
func (s *Service) LoadSnapshot() (map[string]any, error) {
	var treeJSON string
	err := s.DB.QueryRow(`SELECT tree FROM state_snapshots WHERE id = 1`).Scan(&treeJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	tree := map[string]any{}
	if err := json.Unmarshal([]byte(treeJSON), &tree); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return tree, nil
}

// AuditCount reports the number of persisted audit rows.
func (s *Service) AuditCount() (int, error) {
	var n int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM state_audit`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit rows: %w", err)
	}
	return n, nil
}

// Transaction executes fn within a transaction, rolling back on error or
// panic.
func (s *Service) Transaction(fn func(*sql.Tx) error) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Service) Health() error {
	if s.DB == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.DB.Ping()
}

func (s *Service) Close() error {
	if s.DB != nil {
		log.Println("[DB] Closing database connection...")
		return s.DB.Close()
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
