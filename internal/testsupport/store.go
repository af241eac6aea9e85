package testsupport

import (
	"context"
	"testing"

	"tsundoku/internal/config"
	"tsundoku/internal/storage"
)

// MustOpenStore opens the backend selected by cfg and registers cleanup.
// A nil cfg opens an unlimited in-memory store.
func MustOpenStore(t testing.TB, cfg *config.Config) storage.Store {
	t.Helper()

	if cfg == nil {
		return storage.NewMemory(0)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store, err := storage.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
