package storage

import (
	"context"
	"errors"
	"testing"

	"dischat/models"
)

func TestUsersListInInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustAddUser(t, store, "zed", "Zed")
	mustAddUser(t, store, "amy", "Amy")
	mustAddUser(t, store, "bob", "Bob")

	all, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "zed" || all[1].ID != "amy" || all[2].ID != "bob" {
		t.Fatalf("expected insertion order zed, amy, bob; got %+v", all)
	}

	others, err := store.ListUsersExcept(ctx, "amy")
	if err != nil {
		t.Fatalf("ListUsersExcept failed: %v", err)
	}
	if len(others) != 2 || others[0].ID != "zed" || others[1].ID != "bob" {
		t.Fatalf("expected zed, bob without amy; got %+v", others)
	}

	got, err := store.GetUser(ctx, "bob")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.FullName != "Bob" || got.Email != "bob@example.com" {
		t.Fatalf("unexpected user: %+v", got)
	}

	if _, err := store.GetUser(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertUserRejectsDuplicates(t *testing.T) {
	store := newTestStore(t)
	mustAddUser(t, store, "amy", "Amy")

	err := store.InsertUser(context.Background(), models.User{ID: "amy", FullName: "Again", Email: "other@example.com"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for repeated id, got %v", err)
	}

	err = store.InsertUser(context.Background(), models.User{ID: "amy-2", FullName: "Amy", Email: "amy@example.com"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for repeated email, got %v", err)
	}
}

func TestCredentialsAndTokenRevocation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.InsertCredential(ctx, Credential{UserID: "u1", Email: "a@example.com", PasswordHash: "hash"}); err != nil {
		t.Fatalf("InsertCredential failed: %v", err)
	}
	if err := store.InsertCredential(ctx, Credential{UserID: "u2", Email: "a@example.com", PasswordHash: "hash"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for repeated email, got %v", err)
	}

	cred, err := store.GetCredentialByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetCredentialByEmail failed: %v", err)
	}
	if cred.UserID != "u1" || cred.PasswordHash != "hash" || cred.CreatedAt == 0 {
		t.Fatalf("unexpected credential: %+v", cred)
	}
	if _, err := store.GetCredentialByEmail(ctx, "missing@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.RevokeToken(ctx, "jti-old", 1_000); err != nil {
		t.Fatalf("RevokeToken old failed: %v", err)
	}
	if err := store.RevokeToken(ctx, "jti-new", 5_000); err != nil {
		t.Fatalf("RevokeToken new failed: %v", err)
	}

	revoked, err := store.IsTokenRevoked(ctx, "jti-old")
	if err != nil || !revoked {
		t.Fatalf("expected jti-old revoked, got %v (%v)", revoked, err)
	}

	pruned, err := store.PruneRevokedTokens(2_000)
	if err != nil {
		t.Fatalf("PruneRevokedTokens failed: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned token, got %d", pruned)
	}

	revoked, err = store.IsTokenRevoked(ctx, "jti-new")
	if err != nil || !revoked {
		t.Fatalf("expected jti-new still revoked, got %v (%v)", revoked, err)
	}
}
