package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateGeneration(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateDispatch() error {
	if c.Dispatch.Workers < 1 {
		return errors.New("dispatch.workers must be at least 1")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return errors.New("dispatch.max_attempts must be at least 1")
	}
	if c.Dispatch.RetryBaseSeconds < 0 || c.Dispatch.RetryMaxSeconds < 0 {
		return errors.New("dispatch retry delays must not be negative")
	}
	if c.Dispatch.RetryMaxSeconds > 0 && c.Dispatch.RetryBaseSeconds > c.Dispatch.RetryMaxSeconds {
		return errors.New("dispatch.retry_base_seconds must not exceed dispatch.retry_max_seconds")
	}
	if c.Dispatch.LeaseSeconds < 1 {
		return errors.New("dispatch.lease_seconds must be at least 1")
	}
	return nil
}

func (c *Config) validateGeneration() error {
	if strings.TrimSpace(c.Generation.APIKey) == "" {
		// Fallback generation needs no remote settings.
		return nil
	}
	if strings.TrimSpace(c.Generation.BaseURL) == "" {
		return errors.New("generation.base_url must be set when generation.api_key is configured")
	}
	if strings.TrimSpace(c.Generation.Model) == "" {
		return errors.New("generation.model must be set when generation.api_key is configured")
	}
	if c.Generation.TimeoutSeconds < 0 {
		return errors.New("generation.timeout_seconds must not be negative")
	}
	return nil
}
