// Package logging builds the slog loggers used across the daemon and
// provides the standardized field vocabulary for structured events.
package logging
