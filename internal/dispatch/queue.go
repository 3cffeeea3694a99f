package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"loom/internal/config"
	"loom/internal/logging"
)

const sqliteBusyCode = 5

// Kind names the workflow entry point a job drives.
type Kind string

const (
	KindRun    Kind = "run"
	KindResume Kind = "resume"
)

// Job statuses. A leased job whose lease expires is returned to queued, so
// delivery is at-least-once and jobs are acknowledged only after completion.
const (
	jobQueued = "queued"
	jobLeased = "leased"
	jobDone   = "done"
	jobFailed = "failed"
)

// Job is one unit of deferred workflow work.
type Job struct {
	ID        string
	TaskID    string
	Kind      Kind
	Status    string
	Attempts  int
	NextRunAt time.Time
	LastError string
}

// Queue is the durable job queue backing the dispatcher. It lives in its own
// database file so queue churn never contends with task reads.
type Queue struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// OpenQueue opens (and if needed creates) the jobs database under DataDir.
func OpenQueue(cfg *config.Config, logger *slog.Logger) (*Queue, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "jobs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open jobs db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	queue := &Queue{
		db:     db,
		path:   dbPath,
		logger: logging.NewComponentLogger(logger, "dispatch-queue"),
		now:    time.Now,
	}
	if err := queue.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return queue, nil
}

// Close closes the underlying database connection.
func (q *Queue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

func (q *Queue) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id               TEXT PRIMARY KEY,
    task_id          TEXT NOT NULL,
    kind             TEXT NOT NULL,
    status           TEXT NOT NULL,
    attempts         INTEGER NOT NULL DEFAULT 0,
    next_run_at      TEXT NOT NULL,
    lease_expires_at TEXT,
    last_error       TEXT NOT NULL DEFAULT '',
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_next ON jobs(status, next_run_at);
`
	if _, err := q.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init jobs schema: %w", err)
	}
	return nil
}

// Enqueue records a new job that is immediately due.
func (q *Queue) Enqueue(ctx context.Context, taskID string, kind Kind) (string, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return "", errors.New("enqueue: task id required")
	}
	switch kind {
	case KindRun, KindResume:
	default:
		return "", fmt.Errorf("enqueue: unknown job kind %q", kind)
	}

	jobID := uuid.NewString()
	now := queueTimestamp(q.now())
	err := q.retryOnBusy(ctx, func() error {
		_, execErr := q.db.ExecContext(ctx, `
INSERT INTO jobs (id, task_id, kind, status, attempts, next_run_at, created_at, updated_at)
VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
			jobID, taskID, string(kind), jobQueued, now, now, now)
		return execErr
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job for task %s: %w", taskID, err)
	}

	q.logger.Info("job enqueued",
		logging.String("job_id", jobID),
		logging.String(logging.FieldTaskID, taskID),
		logging.String("kind", string(kind)),
	)
	return jobID, nil
}

// Lease claims the oldest due job, holding it for the given duration. It
// returns nil when no job is due.
func (q *Queue) Lease(ctx context.Context, hold time.Duration) (*Job, error) {
	now := q.now()
	var job *Job
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
SELECT id, task_id, kind, status, attempts, next_run_at, last_error
FROM jobs
WHERE status = ? AND next_run_at <= ?
ORDER BY next_run_at ASC, created_at ASC
LIMIT 1`,
			jobQueued, queueTimestamp(now))

		scanned, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		expires := queueTimestamp(now.Add(hold))
		if _, err := tx.ExecContext(ctx, `
UPDATE jobs SET status = ?, lease_expires_at = ?, updated_at = ? WHERE id = ?`,
			jobLeased, expires, queueTimestamp(now), scanned.ID); err != nil {
			return err
		}
		scanned.Status = jobLeased
		job = scanned
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lease job: %w", err)
	}
	return job, nil
}

// Ack marks a leased job as done. Delivery is acknowledged only here, after
// the workflow call has returned.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	return q.setFinal(ctx, jobID, jobDone, "")
}

// Fail marks a job as permanently failed.
func (q *Queue) Fail(ctx context.Context, jobID, lastError string) error {
	return q.setFinal(ctx, jobID, jobFailed, lastError)
}

func (q *Queue) setFinal(ctx context.Context, jobID, status, lastError string) error {
	err := q.retryOnBusy(ctx, func() error {
		_, execErr := q.db.ExecContext(ctx, `
UPDATE jobs SET status = ?, last_error = ?, lease_expires_at = NULL, updated_at = ? WHERE id = ?`,
			status, lastError, queueTimestamp(q.now()), jobID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	return nil
}

// Requeue schedules another delivery attempt after the given delay.
func (q *Queue) Requeue(ctx context.Context, jobID string, attempts int, delay time.Duration, lastError string) error {
	now := q.now()
	err := q.retryOnBusy(ctx, func() error {
		_, execErr := q.db.ExecContext(ctx, `
UPDATE jobs
SET status = ?, attempts = ?, next_run_at = ?, lease_expires_at = NULL, last_error = ?, updated_at = ?
WHERE id = ?`,
			jobQueued, attempts, queueTimestamp(now.Add(delay)), lastError, queueTimestamp(now), jobID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", jobID, err)
	}
	return nil
}

// ReclaimExpired returns leased jobs whose lease has lapsed to the queue so
// another worker can redeliver them.
func (q *Queue) ReclaimExpired(ctx context.Context) (int, error) {
	now := queueTimestamp(q.now())
	var reclaimed int64
	err := q.retryOnBusy(ctx, func() error {
		res, execErr := q.db.ExecContext(ctx, `
UPDATE jobs
SET status = ?, lease_expires_at = NULL, updated_at = ?
WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?`,
			jobQueued, now, jobLeased, now)
		if execErr != nil {
			return execErr
		}
		reclaimed, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	if reclaimed > 0 {
		q.logger.Warn("reclaimed expired job leases", logging.Int64("count", reclaimed))
	}
	return int(reclaimed), nil
}

// Stats reports job counts per status for the daemon status endpoint.
func (q *Queue) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("queue stats scan: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Get loads a job by id, mainly for tests and diagnostics.
func (q *Queue) Get(ctx context.Context, jobID string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT id, task_id, kind, status, attempts, next_run_at, last_error
FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return job, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var job Job
	var kind, nextRun string
	if err := scanner.Scan(&job.ID, &job.TaskID, &kind, &job.Status, &job.Attempts, &nextRun, &job.LastError); err != nil {
		return nil, err
	}
	job.Kind = Kind(kind)
	parsed, err := time.Parse(time.RFC3339Nano, nextRun)
	if err != nil {
		return nil, fmt.Errorf("parse next_run_at %q: %w", nextRun, err)
	}
	job.NextRunAt = parsed
	return &job, nil
}

// queueTimestampFormat pads nanoseconds to fixed width so the SQL string
// comparisons on next_run_at and lease_expires_at order chronologically.
const queueTimestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

func queueTimestamp(t time.Time) string {
	return t.UTC().Format(queueTimestampFormat)
}

func (q *Queue) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return q.retryOnBusy(ctx, func() error {
		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func (q *Queue) retryOnBusy(ctx context.Context, op func() error) error {
	const attempts = 5
	delay := 10 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		err = op()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > 200*time.Millisecond {
			delay = 200 * time.Millisecond
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
