package server

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStorePathDefault(t *testing.T) {
	t.Setenv("PASSKEYS_DB_PATH", "")
	if got := storePath(); got != filepath.Join("data", "passkeys.db") {
		t.Fatalf("storePath() = %q", got)
	}
}

func TestStorePathFromEnv(t *testing.T) {
	t.Setenv("PASSKEYS_DB_PATH", "  /tmp/custom.db  ")
	if got := storePath(); got != "/tmp/custom.db" {
		t.Fatalf("storePath() = %q", got)
	}
}

func TestOpenStoreInvalidDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("data"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	path := filepath.Join(file, "passkeys.db")

	if _, err := openStore(path); err == nil {
		t.Fatal("expected error for invalid storage dir")
	}
}

func TestOpenStoreCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "passkeys.db")

	store, err := openStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
}
