// Package api exposes the task lifecycle as a service layer with
// transport-friendly DTOs. The HTTP server and the CLI both go through
// TaskService, so validation and approval semantics live in exactly one
// place.
package api
