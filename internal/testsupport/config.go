package testsupport

import (
	"path/filepath"
	"testing"

	"loom/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.ScratchpadDir = filepath.Join(base, "scratchpad")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Dispatch.PollInterval = 0
	cfg.Dispatch.RetryBaseSeconds = 0
	cfg.Dispatch.RetryMaxSeconds = 0

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithWorkers overrides the dispatch worker count on the test config.
func WithWorkers(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Dispatch.Workers = n
	}
}

// WithMaxAttempts overrides the dispatch retry budget on the test config.
func WithMaxAttempts(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Dispatch.MaxAttempts = n
	}
}
