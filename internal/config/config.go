package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir       string `toml:"data_dir"`
	LogDir        string `toml:"log_dir"`
	ScratchpadDir string `toml:"scratchpad_dir"`
	APIBind       string `toml:"api_bind"`
}

// Generation contains connection settings for the external generation service.
// When the API key is empty the daemon runs with deterministic fallback output.
type Generation struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Dispatch contains job queue tuning.
type Dispatch struct {
	Workers          int `toml:"workers"`
	MaxAttempts      int `toml:"max_attempts"`
	RetryBaseSeconds int `toml:"retry_base_seconds"`
	RetryMaxSeconds  int `toml:"retry_max_seconds"`
	PollInterval     int `toml:"poll_interval"`
	LeaseSeconds     int `toml:"lease_seconds"`
	ReclaimInterval  int `toml:"reclaim_interval"`
}

// Notifications contains ntfy push notification settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config is the root application configuration.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Generation    Generation    `toml:"generation"`
	Dispatch      Dispatch      `toml:"dispatch"`
	Notifications Notifications `toml:"notifications"`
	LogLevel      string        `toml:"log_level"`
	LogFormat     string        `toml:"log_format"`
}

// DefaultConfigPath returns the canonical config file location.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "loom", "config.toml"), nil
}

// Load reads configuration from path, falling back to the default location
// and then to built-in defaults when no file exists. It returns the config,
// the path that was read (empty when defaults were used), and whether a file
// was found.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved := strings.TrimSpace(path)
	explicit := resolved != ""
	if !explicit {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, "", false, err
		}
		resolved = defaultPath
	}

	data, err := os.ReadFile(expandPath(resolved))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			cfg.normalize()
			return &cfg, "", false, nil
		}
		return nil, "", false, fmt.Errorf("read config %s: %w", resolved, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, "", false, fmt.Errorf("parse config %s: %w", resolved, err)
	}

	cfg.normalize()
	return &cfg, resolved, true, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	expanded := expandPath(path)
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ScratchpadDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) normalize() {
	c.Paths.DataDir = expandPath(c.Paths.DataDir)
	c.Paths.LogDir = expandPath(c.Paths.LogDir)
	c.Paths.ScratchpadDir = expandPath(c.Paths.ScratchpadDir)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

func expandPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			if trimmed == "~" {
				return home
			}
			return filepath.Join(home, trimmed[2:])
		}
	}
	return trimmed
}
