// Package scratchpad holds transient cross-stage working data keyed by task
// identifier. Losing the scratchpad is recoverable; the workflow degrades
// with explicit error logging instead of crashing.
package scratchpad
