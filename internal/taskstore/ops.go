package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loom/internal/logging"
)

const taskColumns = "id, prompt, status, result, agent_logs, created_at, updated_at"

// Create inserts a new record with status PENDING, an empty log list, and no
// result. Returns ErrDuplicateTask when the identifier already exists.
func (s *Store) Create(ctx context.Context, taskID, prompt string) (*Task, error) {
	if taskID == "" {
		return nil, errors.New("task id must not be empty")
	}
	now := time.Now().UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		row := tx.QueryRowContext(ctx, `SELECT id FROM tasks WHERE id = ?`, taskID)
		if err := row.Scan(&existing); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, taskID)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check existing task: %w", err)
		}

		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO tasks (id, prompt, status, result, agent_logs, created_at, updated_at)
             VALUES (?, ?, ?, NULL, '[]', ?, ?)`,
			taskID,
			prompt,
			StatusPending,
			timestamp(now),
			timestamp(now),
		)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("task created",
		logging.String(logging.FieldTaskID, taskID),
		logging.String("status", string(StatusPending)),
	)
	return s.Get(ctx, taskID)
}

// Get returns a full task snapshot or ErrNotFound.
func (s *Store) Get(ctx context.Context, taskID string) (*Task, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// UpdateStatus transitions a task to the given status. Unknown status values
// and missing tasks are logged no-ops rather than errors so malformed
// internal calls cannot corrupt state or crash a worker.
func (s *Store) UpdateStatus(ctx context.Context, taskID string, status Status) error {
	if _, ok := statusSet[status]; !ok {
		s.logger.Warn("invalid status update attempted",
			logging.String(logging.FieldTaskID, taskID),
			logging.String("attempted_status", string(status)),
			logging.String(logging.FieldEventType, "status_rejected"),
		)
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		row := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, taskID)
		if err := row.Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.logger.Warn("task not found for status update",
					logging.String(logging.FieldTaskID, taskID),
					logging.String("new_status", string(status)),
				)
				return nil
			}
			return fmt.Errorf("read current status: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
			status,
			timestamp(time.Now()),
			taskID,
		); err != nil {
			return fmt.Errorf("update status: %w", err)
		}

		s.logger.Info("status updated",
			logging.String(logging.FieldTaskID, taskID),
			logging.String("old_status", current),
			logging.String("new_status", string(status)),
		)
		return nil
	})
}

// AppendLogs merges new entries onto the existing ordered log list inside a
// single transaction. No-op on empty input and on missing tasks.
func (s *Store) AppendLogs(ctx context.Context, taskID string, entries []AgentLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		existing, found, err := readLogs(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !found {
			s.logger.Warn("task not found for log append",
				logging.String(logging.FieldTaskID, taskID),
			)
			return nil
		}

		merged := append(existing, entries...)
		encoded, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode agent logs: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE tasks SET agent_logs = ?, updated_at = ? WHERE id = ?`,
			string(encoded),
			timestamp(time.Now()),
			taskID,
		); err != nil {
			return fmt.Errorf("append agent logs: %w", err)
		}

		s.logger.Debug("agent logs appended",
			logging.String(logging.FieldTaskID, taskID),
			logging.Int("appended_count", len(entries)),
			logging.Int("total_count", len(merged)),
		)
		return nil
	})
}

// StoreResult atomically sets the result, appends entries, and forces status
// to COMPLETED. A task that is already COMPLETED is left untouched so a
// duplicate resume signal or retried job cannot double-finalize.
func (s *Store) StoreResult(ctx context.Context, taskID, result string, entries []AgentLogEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		row := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, taskID)
		if err := row.Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.logger.Warn("task not found for result storage",
					logging.String(logging.FieldTaskID, taskID),
				)
				return nil
			}
			return fmt.Errorf("read current status: %w", err)
		}

		if Status(current) == StatusCompleted {
			s.logger.Info("store result skipped, task already completed",
				logging.String(logging.FieldTaskID, taskID),
				logging.String(logging.FieldEventType, "finalize_skipped"),
			)
			return nil
		}

		existing, _, err := readLogs(ctx, tx, taskID)
		if err != nil {
			return err
		}
		merged := append(existing, entries...)
		encoded, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode agent logs: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE tasks SET result = ?, status = ?, agent_logs = ?, updated_at = ? WHERE id = ?`,
			result,
			StatusCompleted,
			string(encoded),
			timestamp(time.Now()),
			taskID,
		); err != nil {
			return fmt.Errorf("store result: %w", err)
		}

		s.logger.Info("result stored and task completed",
			logging.String(logging.FieldTaskID, taskID),
			logging.Int("log_count", len(merged)),
		)
		return nil
	})
}

// MarkFailed moves a task to the terminal FAILED state with a failure log
// entry. Tasks that already completed are left untouched.
func (s *Store) MarkFailed(ctx context.Context, taskID, reason string, entries []AgentLogEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		row := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, taskID)
		if err := row.Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.logger.Warn("task not found for failure marking",
					logging.String(logging.FieldTaskID, taskID),
				)
				return nil
			}
			return fmt.Errorf("read current status: %w", err)
		}
		if Status(current) == StatusCompleted {
			return nil
		}

		existing, _, err := readLogs(ctx, tx, taskID)
		if err != nil {
			return err
		}
		merged := append(existing, entries...)
		merged = append(merged, NewLogEntry("System", "Task failed: "+reason))
		encoded, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode agent logs: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE tasks SET status = ?, agent_logs = ?, updated_at = ? WHERE id = ?`,
			StatusFailed,
			string(encoded),
			timestamp(time.Now()),
			taskID,
		); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}

		s.logger.Warn("task marked failed",
			logging.String(logging.FieldTaskID, taskID),
			logging.String("reason", reason),
			logging.String(logging.FieldEventType, "task_failed"),
		)
		return nil
	})
}

// List returns tasks filtered by status set (or all tasks when no status is
// provided) ordered by creation time.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	ctx = ensureContext(ctx)

	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if len(statuses) > 0 {
		placeholders := make([]byte, 0, len(statuses)*2)
		for i, status := range statuses {
			if i > 0 {
				placeholders = append(placeholders, ',')
			}
			placeholders = append(placeholders, '?')
			args = append(args, status)
		}
		query += ` WHERE status IN (` + string(placeholders) + `)`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Stats returns a count of tasks grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates task state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusRunning:
			health.Running += count
		case StatusAwaitingApproval:
			health.AwaitingApproval += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

func readLogs(ctx context.Context, tx *sql.Tx, taskID string) ([]AgentLogEntry, bool, error) {
	var raw string
	row := tx.QueryRowContext(ctx, `SELECT agent_logs FROM tasks WHERE id = ?`, taskID)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read agent logs: %w", err)
	}

	var entries []AgentLogEntry
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, false, fmt.Errorf("decode agent logs: %w", err)
		}
	}
	return entries, true, nil
}

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id         string
		prompt     string
		statusStr  string
		result     sql.NullString
		logsRaw    string
		createdRaw string
		updatedRaw string
	)

	if err := scanner.Scan(&id, &prompt, &statusStr, &result, &logsRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	task := &Task{
		ID:        id,
		Prompt:    prompt,
		Status:    Status(statusStr),
		Result:    result.String,
		HasResult: result.Valid,
	}

	if logsRaw != "" {
		if err := json.Unmarshal([]byte(logsRaw), &task.AgentLogs); err != nil {
			return nil, fmt.Errorf("decode agent logs: %w", err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		task.UpdatedAt = updated
	}
	return task, nil
}
