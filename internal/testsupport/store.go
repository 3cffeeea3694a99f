package testsupport

import (
	"context"
	"testing"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/taskstore"
)

// MustOpenStore opens a taskstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *taskstore.Store {
	t.Helper()

	store, err := taskstore.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("taskstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewTask creates a pending task for tests using the provided store.
func NewTask(t testing.TB, store *taskstore.Store, taskID, prompt string) *taskstore.Task {
	t.Helper()

	task, err := store.Create(context.Background(), taskID, prompt)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return task
}
