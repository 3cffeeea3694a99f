package taskstore

import "errors"

var (
	// ErrNotFound is returned by Get when no task exists for the identifier.
	ErrNotFound = errors.New("task not found")
	// ErrDuplicateTask is returned by Create when the identifier is taken.
	ErrDuplicateTask = errors.New("task already exists")
)
