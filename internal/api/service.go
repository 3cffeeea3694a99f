package api

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/taskstore"
)

// Dispatch abstracts the job queue interactions the service needs.
type Dispatch interface {
	Submit(ctx context.Context, taskID string) (string, error)
	ResumeTask(ctx context.Context, taskID string) (string, error)
}

// TaskService implements the task lifecycle operations exposed over HTTP and
// by the CLI. It validates input, owns task id generation, and hands work to
// the dispatch layer.
type TaskService struct {
	store    *taskstore.Store
	dispatch Dispatch
	logger   *slog.Logger
}

// NewTaskService constructs a TaskService.
func NewTaskService(store *taskstore.Store, dispatch Dispatch, logger *slog.Logger) *TaskService {
	return &TaskService{
		store:    store,
		dispatch: dispatch,
		logger:   logging.NewComponentLogger(logger, "api"),
	}
}

// Create registers a new task and queues its workflow run. Validation happens
// before any record is written, so a rejected prompt leaves no trace.
func (s *TaskService) Create(ctx context.Context, prompt string) (TaskSnapshot, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return TaskSnapshot{}, services.Wrap(services.ErrValidation, "api", "create", "prompt must not be empty", nil)
	}

	taskID := uuid.NewString()
	task, err := s.store.Create(ctx, taskID, prompt)
	if err != nil {
		return TaskSnapshot{}, fmt.Errorf("create task: %w", err)
	}

	if _, err := s.dispatch.Submit(ctx, taskID); err != nil {
		// The record exists but will never run; fail it so it cannot sit in
		// PENDING forever.
		if markErr := s.store.MarkFailed(ctx, taskID, "failed to enqueue workflow job", nil); markErr != nil {
			s.logger.Error("marking unqueued task failed errored",
				logging.String(logging.FieldTaskID, taskID),
				logging.Error(markErr),
			)
		}
		return TaskSnapshot{}, services.Wrap(services.ErrTransient, "api", "create", "enqueue workflow job failed", err)
	}

	s.logger.Info("task created",
		logging.String(logging.FieldTaskID, taskID),
		logging.Int("prompt_bytes", len(prompt)),
	)
	return FromTask(task), nil
}

// Get returns the current snapshot of a task.
func (s *TaskService) Get(ctx context.Context, taskID string) (TaskSnapshot, error) {
	task, err := s.store.Get(ctx, strings.TrimSpace(taskID))
	if err != nil {
		return TaskSnapshot{}, services.Wrap(services.ErrNotFound, "api", "get", "task lookup failed", err)
	}
	return FromTask(task), nil
}

// List returns tasks, optionally filtered to the given statuses.
func (s *TaskService) List(ctx context.Context, statuses ...taskstore.Status) ([]TaskSnapshot, error) {
	tasks, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return FromTasks(tasks), nil
}

// Approve releases a task waiting at the human gate. Tasks in any other state
// are left untouched and the outcome reports their current status.
func (s *TaskService) Approve(ctx context.Context, taskID string) (ApprovalOutcome, error) {
	taskID = strings.TrimSpace(taskID)
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return ApprovalOutcome{}, services.Wrap(services.ErrNotFound, "api", "approve", "task lookup failed", err)
	}

	if task.Status != taskstore.StatusAwaitingApproval {
		return ApprovalOutcome{
			TaskID:   taskID,
			Approved: false,
			Status:   string(task.Status),
			Detail:   fmt.Sprintf("task is %s, approval applies only to AWAITING_APPROVAL", task.Status),
		}, nil
	}

	if err := s.store.UpdateStatus(ctx, taskID, taskstore.StatusRunning); err != nil {
		return ApprovalOutcome{}, fmt.Errorf("approve task %s: %w", taskID, err)
	}
	if err := s.store.AppendLogs(ctx, taskID, []taskstore.AgentLogEntry{
		taskstore.NewLogEntry("System", "Task approved by user"),
	}); err != nil {
		s.logger.Warn("appending approval log failed",
			logging.String(logging.FieldTaskID, taskID),
			logging.Error(err),
		)
	}

	if _, err := s.dispatch.ResumeTask(ctx, taskID); err != nil {
		return ApprovalOutcome{}, services.Wrap(services.ErrTransient, "api", "approve", "enqueue resume job failed", err)
	}

	s.logger.Info("task approved", logging.String(logging.FieldTaskID, taskID))
	return ApprovalOutcome{
		TaskID:   taskID,
		Approved: true,
		Status:   string(taskstore.StatusRunning),
	}, nil
}
