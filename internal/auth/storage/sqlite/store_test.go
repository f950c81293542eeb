package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jimmythecoder/passkeys/internal/auth/storage"
	"github.com/jimmythecoder/passkeys/internal/auth/user"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func testUser(id, userName string) user.User {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return user.User{
		ID:          id,
		UserName:    userName,
		DisplayName: "Test User",
		Roles:       []string{"user"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func testCredential(credentialID, userID string) storage.Credential {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return storage.Credential{
		CredentialID:     credentialID,
		UserID:           userID,
		Name:             "YubiKey",
		PublicKey:        []byte{0x01, 0x02, 0x03},
		AttestationType:  "none",
		AAGUID:           []byte{0xAA},
		SignatureCounter: 7,
		DeviceType:       "multiDevice",
		BackedUp:         true,
		Transports:       []string{"internal", "hybrid"},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestCreateAndGetUser(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created := testUser("user-1", "alice@example.com")
	if err := store.CreateUser(ctx, created); err != nil {
		t.Fatalf("create user: %v", err)
	}

	byID, err := store.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if byID.UserName != "alice@example.com" || byID.DisplayName != "Test User" {
		t.Fatalf("unexpected user: %+v", byID)
	}
	if len(byID.Roles) != 1 || byID.Roles[0] != "user" {
		t.Fatalf("unexpected roles: %v", byID.Roles)
	}
	if !byID.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created at = %v, want %v", byID.CreatedAt, created.CreatedAt)
	}

	byName, err := store.GetUserByUserName(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("get user by name: %v", err)
	}
	if byName.ID != "user-1" {
		t.Fatalf("expected user-1, got %q", byName.ID)
	}
}

func TestGetUserNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetUser(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = store.GetUserByUserName(context.Background(), "missing@example.com")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateUserUniqueUserName(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, testUser("user-1", "alice@example.com")); err != nil {
		t.Fatalf("create user: %v", err)
	}
	err := store.CreateUser(ctx, testUser("user-2", "alice@example.com"))
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestFailedAttemptCounter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, testUser("user-1", "alice@example.com")); err != nil {
		t.Fatalf("create user: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementFailedAttempts(ctx, "user-1")
		if err != nil {
			t.Fatalf("increment attempts: %v", err)
		}
		if got != want {
			t.Fatalf("attempts = %d, want %d", got, want)
		}
	}

	if err := store.ResetFailedAttempts(ctx, "user-1"); err != nil {
		t.Fatalf("reset attempts: %v", err)
	}
	stored, err := store.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if stored.FailedLoginAttempts != 0 {
		t.Fatalf("attempts after reset = %d, want 0", stored.FailedLoginAttempts)
	}

	if _, err := store.IncrementFailedAttempts(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.ResetFailedAttempts(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateAndListCredentials(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, testUser("user-1", "alice@example.com")); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := store.CreateCredential(ctx, testCredential("cred-1", "user-1")); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	credentials, err := store.ListCredentialsByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(credentials) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(credentials))
	}
	got := credentials[0]
	if got.Name != "YubiKey" || got.DeviceType != "multiDevice" || !got.BackedUp {
		t.Fatalf("unexpected credential: %+v", got)
	}
	if got.SignatureCounter != 7 {
		t.Fatalf("counter = %d, want 7", got.SignatureCounter)
	}
	if len(got.Transports) != 2 || got.Transports[0] != "internal" {
		t.Fatalf("unexpected transports: %v", got.Transports)
	}
	if got.LastUsedAt != nil {
		t.Fatal("expected no last use on fresh credential")
	}
}

func TestCreateCredentialUniqueAcrossUsers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, testUser("user-1", "alice@example.com")); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := store.CreateUser(ctx, testUser("user-2", "bob@example.com")); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := store.CreateCredential(ctx, testCredential("cred-1", "user-1")); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	err := store.CreateCredential(ctx, testCredential("cred-1", "user-2"))
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestFindCredentialByIDs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, testUser("user-1", "alice@example.com")); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := store.CreateCredential(ctx, testCredential("cred-1", "user-1")); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	found, err := store.FindCredentialByIDs(ctx, []string{"unknown", "cred-1"})
	if err != nil {
		t.Fatalf("find credential: %v", err)
	}
	if found.CredentialID != "cred-1" || found.UserID != "user-1" {
		t.Fatalf("unexpected credential: %+v", found)
	}

	_, err = store.FindCredentialByIDs(ctx, []string{"unknown"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateSignatureCounter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, testUser("user-1", "alice@example.com")); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := store.CreateCredential(ctx, testCredential("cred-1", "user-1")); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	usedAt := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	if err := store.UpdateSignatureCounter(ctx, "cred-1", 8, usedAt); err != nil {
		t.Fatalf("update counter: %v", err)
	}

	credentials, err := store.ListCredentialsByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	got := credentials[0]
	if got.SignatureCounter != 8 {
		t.Fatalf("counter = %d, want 8", got.SignatureCounter)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(usedAt) {
		t.Fatalf("last used = %v, want %v", got.LastUsedAt, usedAt)
	}

	if err := store.UpdateSignatureCounter(ctx, "missing", 1, usedAt); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteUserCascadesCredentials(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, testUser("user-1", "alice@example.com")); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := store.CreateCredential(ctx, testCredential("cred-1", "user-1")); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	if err := store.DeleteUser(ctx, "user-1"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := store.GetUser(ctx, "user-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	credentials, err := store.ListCredentialsByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(credentials) != 0 {
		t.Fatalf("expected cascade delete, got %d credentials", len(credentials))
	}
}
