package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDBFileName is the SQLite filename under the backend data dir.
	DefaultDBFileName = "dischat.db"
	// DefaultMaintenanceInterval controls WAL truncation and token pruning.
	DefaultMaintenanceInterval = time.Hour
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS users (
  id         TEXT PRIMARY KEY,
  full_name  TEXT NOT NULL,
  email      TEXT NOT NULL UNIQUE,
  created_at INTEGER NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS credentials (
  user_id       TEXT PRIMARY KEY,
  email         TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  created_at    INTEGER NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS messages (
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  sender_id     TEXT NOT NULL,
  receiver_id   TEXT NOT NULL,
  content       TEXT NOT NULL,
  sent_time     INTEGER NOT NULL,
  received_time INTEGER,
  read_time     INTEGER,
  lamport_clock INTEGER NOT NULL DEFAULT 0
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_pair_time
ON messages (sender_id, receiver_id, sent_time, id);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_receiver_received
ON messages (receiver_id, received_time);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_receiver_read
ON messages (receiver_id, read_time);
`,
	`
CREATE TABLE IF NOT EXISTS revoked_tokens (
  token_id   TEXT PRIMARY KEY,
  expires_at INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_revoked_tokens_expires_at
ON revoked_tokens (expires_at);
`,
}

// Store is a thin wrapper around a SQLite connection.
type Store struct {
	db  *sql.DB
	now func() time.Time

	maintenanceInterval time.Duration
	maintenanceStop     chan struct{}
	maintenanceWG       sync.WaitGroup
	closeOnce           sync.Once
}

// Open opens (or creates) dischat.db under the given data directory and runs migrations.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}

	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	store := &Store{
		db:                  db,
		now:                 time.Now,
		maintenanceInterval: DefaultMaintenanceInterval,
		maintenanceStop:     make(chan struct{}),
	}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.checkpointWAL(); err != nil {
		_ = db.Close()
		return nil, err
	}
	store.startMaintenanceLoop()

	return store, nil
}

// SetClock replaces the clock used for server-assigned timestamps.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		if s.maintenanceStop != nil {
			close(s.maintenanceStop)
			s.maintenanceWG.Wait()
		}
		closeErr = s.db.Close()
		s.db = nil
	})
	return closeErr
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}

	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

func (s *Store) checkpointWAL() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("wal checkpoint truncate: %w", err)
	}
	return nil
}

func (s *Store) startMaintenanceLoop() {
	interval := s.maintenanceInterval
	if interval <= 0 || s.maintenanceStop == nil {
		return
	}

	s.maintenanceWG.Add(1)
	go func() {
		defer s.maintenanceWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.checkpointWAL()
				_, _ = s.pruneRevokedTokens(s.now().UnixMilli())
			case <-s.maintenanceStop:
				return
			}
		}
	}()
}
