// Package daemon ties the task store, scratchpad, dispatcher, and HTTP API
// into a single long-running process. A file lock enforces one instance per
// machine.
package daemon
