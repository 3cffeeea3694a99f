package scratchpad

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"loom/internal/logging"
)

const (
	taskPrefix      = "task"
	workspaceSuffix = "workspace"
)

// WorkspaceKey returns the stable cache key for a task workspace. The format
// is part of the operational contract and must remain `task:<id>:workspace`.
func WorkspaceKey(taskID string) (string, error) {
	if strings.TrimSpace(taskID) == "" {
		return "", errors.New("task id must be a non-empty string")
	}
	return taskPrefix + ":" + taskID + ":" + workspaceSuffix, nil
}

// Cache is a transient key-value store for inter-stage working data. Entries
// live in a single JSON file guarded by a mutex. The cache is a handoff
// optimization, not a system of record: when the backing directory is
// unconfigured or unwritable every operation degrades to a logged no-op so
// the workflow can proceed without it.
type Cache struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]json.RawMessage
}

// New creates a cache persisting under dir. An empty dir produces a
// non-functional cache where writes report failure and reads return nil.
func New(dir string, logger *slog.Logger) *Cache {
	c := &Cache{
		logger:  logging.NewComponentLogger(logger, "scratchpad"),
		entries: make(map[string]json.RawMessage),
	}
	if strings.TrimSpace(dir) == "" {
		c.logger.Warn("scratchpad directory not configured, running degraded",
			logging.String(logging.FieldEventType, "scratchpad_degraded"),
			logging.String(logging.FieldErrorHint, "set paths.scratchpad_dir to enable cross-stage handoff"),
		)
		return c
	}

	c.path = filepath.Join(dir, "workspaces.json")
	if err := c.load(); err != nil {
		c.logger.Warn("failed to load scratchpad state, starting empty",
			logging.Error(err),
			logging.String(logging.FieldEventType, "scratchpad_load_failed"),
		)
	}
	return c
}

// Available reports whether the cache has a usable backing file. Used by the
// daemon status endpoint.
func (c *Cache) Available() bool {
	return c != nil && c.path != ""
}

// SetWorkspace serializes data and stores it under the task's workspace key.
// The boolean reports success; transient persistence failures are logged and
// reported as false, never returned as errors. The error return fires only
// for programmer mistakes: an empty task id or unserializable data.
func (c *Cache) SetWorkspace(taskID string, data map[string]any) (bool, error) {
	key, err := WorkspaceKey(taskID)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, errors.New("workspace data must not be nil")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("encode workspace payload: %w", err)
	}

	if c.path == "" {
		c.logger.Error("scratchpad unavailable, workspace write dropped",
			logging.String(logging.FieldTaskID, taskID),
			logging.String("operation", "set_workspace"),
		)
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = payload
	if err := c.save(); err != nil {
		delete(c.entries, key)
		c.logger.Error("workspace write failed",
			logging.String(logging.FieldTaskID, taskID),
			logging.String("operation", "set_workspace"),
			logging.Error(err),
		)
		return false, nil
	}
	return true, nil
}

// GetWorkspace returns the stored object or nil when the entry is absent,
// the cache is unavailable, or the payload is corrupt. Corrupt payloads are
// logged and treated as absent.
func (c *Cache) GetWorkspace(taskID string) map[string]any {
	key, err := WorkspaceKey(taskID)
	if err != nil {
		return nil
	}
	if c.path == "" {
		c.logger.Error("scratchpad unavailable, workspace read skipped",
			logging.String(logging.FieldTaskID, taskID),
			logging.String("operation", "get_workspace"),
		)
		return nil
	}

	c.mu.Lock()
	raw, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		c.logger.Error("corrupt workspace payload treated as absent",
			logging.String(logging.FieldTaskID, taskID),
			logging.String("operation", "get_workspace"),
			logging.Error(err),
		)
		return nil
	}
	return data
}

// DeleteWorkspace removes the task's workspace entry. Idempotent; reports
// whether a key was actually removed.
func (c *Cache) DeleteWorkspace(taskID string) bool {
	key, err := WorkspaceKey(taskID)
	if err != nil {
		return false
	}
	if c.path == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	if err := c.save(); err != nil {
		c.logger.Error("workspace delete failed to persist",
			logging.String(logging.FieldTaskID, taskID),
			logging.String("operation", "delete_workspace"),
			logging.Error(err),
		)
	}
	return true
}

// Ping reports whether the backing file location is writable.
func (c *Cache) Ping() bool {
	if c.path == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save() == nil
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	entries := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decode scratchpad state: %w", err)
	}
	c.entries = entries
	return nil
}

// save writes the whole entry map atomically via rename. Caller holds c.mu.
func (c *Cache) save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
