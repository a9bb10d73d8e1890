package sessionstore

import (
	"errors"
	"testing"
	"time"

	"dischat/models"
)

func TestSaveLoadClear(t *testing.T) {
	dataDir := t.TempDir()

	store, err := Open(dataDir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Load() on empty store error = %v, want ErrNoSession", err)
	}

	want := models.Session{
		AccessToken: "token-1",
		TokenType:   "bearer",
		ExpiresAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		User:        models.Identity{ID: "user-1", Email: "one@example.com"},
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	reopened, err := Open(dataDir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken != want.AccessToken || got.User != want.User || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}

	if err := reopened.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := reopened.Clear(); err != nil {
		t.Fatalf("second Clear() error = %v", err)
	}
	if _, err := reopened.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Load() after Clear error = %v, want ErrNoSession", err)
	}
}

func TestSaveReplacesSession(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	for _, token := range []string{"first", "second"} {
		if err := store.Save(models.Session{AccessToken: token}); err != nil {
			t.Fatalf("Save(%q) error = %v", token, err)
		}
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken != "second" {
		t.Fatalf("AccessToken = %q, want second", got.AccessToken)
	}
}
