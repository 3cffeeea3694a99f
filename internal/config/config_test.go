package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"loom/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingDefaultUsesDefaults(t *testing.T) {
	cfg, path, found, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if found && path == "" {
		t.Fatal("found config but no path reported")
	}
	if cfg.Dispatch.MaxAttempts < 1 {
		t.Fatalf("expected defaulted dispatch settings, got %+v", cfg.Dispatch)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := "log_level = \"debug\"\n\n[dispatch]\nworkers = 4\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, loadedPath, found, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !found || loadedPath != path {
		t.Fatalf("expected config loaded from %s, got %s (found=%v)", path, loadedPath, found)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level override, got %q", cfg.LogLevel)
	}
	if cfg.Dispatch.Workers != 4 {
		t.Fatalf("expected workers override, got %d", cfg.Dispatch.Workers)
	}
	if cfg.Dispatch.MaxAttempts != 3 {
		t.Fatalf("expected untouched defaults to survive, got %d", cfg.Dispatch.MaxAttempts)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, _, _, err := config.Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}

func TestValidateRejectsBadDispatch(t *testing.T) {
	cfg := config.Default()
	cfg.Dispatch.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero workers")
	}

	cfg = config.Default()
	cfg.Dispatch.RetryBaseSeconds = 60
	cfg.Dispatch.RetryMaxSeconds = 30
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for inverted retry bounds")
	}
}

func TestValidateGenerationRequiresModelWithKey(t *testing.T) {
	cfg := config.Default()
	cfg.Generation.APIKey = "key"
	cfg.Generation.Model = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing model")
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	cfg.Paths.ScratchpadDir = filepath.Join(dir, "scratch")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, d := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.ScratchpadDir} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist", d)
		}
	}
}
