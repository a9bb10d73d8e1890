package storage

import (
	"context"
	"testing"
	"time"

	"dischat/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

// steppingClock returns a clock that advances by step on every call.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		now := current
		current = current.Add(step)
		return now
	}
}

func mustAddUser(t *testing.T, store *Store, id, name string) {
	t.Helper()

	err := store.InsertUser(context.Background(), models.User{
		ID:       id,
		FullName: name,
		Email:    id + "@example.com",
	})
	if err != nil {
		t.Fatalf("add user %q: %v", id, err)
	}
}

func mustSend(t *testing.T, store *Store, from, to, content string) *models.Message {
	t.Helper()

	msg, err := store.InsertMessage(context.Background(), from, models.NewMessage{
		ReceiverID: to,
		Content:    content,
	})
	if err != nil {
		t.Fatalf("insert message %q: %v", content, err)
	}
	return msg
}
