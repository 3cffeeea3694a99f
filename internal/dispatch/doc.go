// Package dispatch runs workflow jobs asynchronously on a worker pool backed
// by a durable SQLite queue. Jobs are leased rather than dequeued, so a
// worker crash only delays delivery until the lease expires. Acknowledgement
// happens after the workflow call returns, giving at-least-once semantics.
package dispatch
