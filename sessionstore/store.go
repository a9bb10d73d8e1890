// Package sessionstore keeps the signed-in session on disk so the CLI stays
// authenticated across invocations.
package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble/v2"

	"dischat/models"
)

// DefaultDirName is the pebble directory created under the data dir.
const DefaultDirName = "session"

var (
	// ErrNoSession indicates nobody is signed in.
	ErrNoSession = errors.New("sessionstore: no session")

	currentKey = []byte("session/current")
)

// Store is a pebble-backed holder for the current session.
type Store struct {
	db        *pebble.DB
	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the session store under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return OpenPath(filepath.Join(dataDir, DefaultDirName))
}

// OpenPath opens or creates the session store at dir.
func OpenPath(dir string) (*Store, error) {
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open session store %q: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Load returns the saved session or ErrNoSession.
func (s *Store) Load() (models.Session, error) {
	data, closer, err := s.db.Get(currentKey)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Session{}, ErrNoSession
		}
		return models.Session{}, fmt.Errorf("read session: %w", err)
	}
	defer closer.Close()

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return models.Session{}, fmt.Errorf("decode session: %w", err)
	}
	if session.AccessToken == "" {
		return models.Session{}, ErrNoSession
	}
	return session, nil
}

// Save replaces the current session.
func (s *Store) Save(session models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.db.Set(currentKey, data, pebble.Sync); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Clear forgets the current session. Clearing an empty store is not an error.
func (s *Store) Clear() error {
	if err := s.db.Delete(currentKey, pebble.Sync); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close flushes and closes the store. Safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
