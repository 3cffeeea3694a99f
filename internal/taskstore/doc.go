// Package taskstore persists task records in SQLite and is the source of
// truth for external polling. Every mutation runs inside a transaction so a
// partial update is never visible to concurrent workers.
package taskstore
