package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"loom/internal/logging"
	"loom/internal/notify"
	"loom/internal/scratchpad"
	"loom/internal/services"
	"loom/internal/taskstore"
)

// StageAgent runs one workflow stage and returns its output.
type StageAgent interface {
	Name() string
	Run(ctx context.Context, input, taskID string) (string, error)
}

// Engine drives tasks through the research, writing, and approval stages.
// Stage errors are returned to the caller; the dispatch layer owns retry
// policy and terminal failure marking.
type Engine struct {
	store    *taskstore.Store
	pad      *scratchpad.Cache
	research StageAgent
	writing  StageAgent
	notifier notify.Service
	logger   *slog.Logger
}

// New constructs a workflow engine.
func New(store *taskstore.Store, pad *scratchpad.Cache, research, writing StageAgent, notifier notify.Service, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		pad:      pad,
		research: research,
		writing:  writing,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "workflow"),
	}
}

// Execute runs a task from the beginning up to the approval gate. On success
// the task is left in AWAITING_APPROVAL with its research data and draft
// persisted in the scratchpad workspace.
func (e *Engine) Execute(ctx context.Context, taskID, prompt string) error {
	state := newState(taskID, prompt)
	ctx = services.WithTaskID(ctx, taskID)
	logger := logging.WithContext(ctx, e.logger)

	if err := e.researchNode(ctx, logger, state); err != nil {
		return err
	}
	if err := e.writingNode(ctx, logger, state); err != nil {
		return err
	}
	e.approvalNode(ctx, logger, state)
	return nil
}

func (e *Engine) researchNode(ctx context.Context, logger *slog.Logger, state *State) error {
	e.reconcileStatus(ctx, logger, state, taskstore.StatusRunning)
	state.AppendLog(e.research.Name(), "Research started")

	output, err := e.research.Run(services.WithStage(ctx, "research"), state.Prompt, state.TaskID)
	if err != nil {
		state.AppendLog(e.research.Name(), "Research failed: "+err.Error())
		e.flushLogs(ctx, logger, state)
		logger.Error("research stage failed",
			logging.String(logging.FieldStage, "research"),
			logging.Error(err),
		)
		return err
	}

	state.ResearchData = output
	state.AppendLog(e.research.Name(), "Research completed")
	e.persistWorkspace(logger, state)
	e.flushLogs(ctx, logger, state)
	return nil
}

func (e *Engine) writingNode(ctx context.Context, logger *slog.Logger, state *State) error {
	e.reconcileStatus(ctx, logger, state, taskstore.StatusRunning)
	state.AppendLog(e.writing.Name(), "Writing started")

	output, err := e.writing.Run(services.WithStage(ctx, "writing"), state.ResearchData, state.TaskID)
	if err != nil {
		state.AppendLog(e.writing.Name(), "Writing failed: "+err.Error())
		e.flushLogs(ctx, logger, state)
		logger.Error("writing stage failed",
			logging.String(logging.FieldStage, "writing"),
			logging.Error(err),
		)
		return err
	}

	state.Draft = output
	state.AppendLog(e.writing.Name(), "Writing completed")
	e.persistWorkspace(logger, state)
	e.flushLogs(ctx, logger, state)
	return nil
}

// approvalNode pauses the task at the human gate. Failures here are logged
// and swallowed so an already-produced draft is never lost to a status write.
func (e *Engine) approvalNode(ctx context.Context, logger *slog.Logger, state *State) {
	e.reconcileStatus(ctx, logger, state, taskstore.StatusAwaitingApproval)
	state.AppendLog("System", "Awaiting human approval")
	e.flushLogs(ctx, logger, state)
	logger.Info("task paused for approval", logging.String(logging.FieldStage, "approval"))

	if e.notifier != nil {
		if err := e.notifier.NotifyApprovalNeeded(ctx, state.TaskID, state.Draft); err != nil {
			logger.Warn("approval notification failed", logging.Error(err))
		}
	}
}

// Resume finalizes an approved task. Research is never re-run; the draft is
// recovered from the scratchpad, or rebuilt from persisted research data if
// the cache lost it.
func (e *Engine) Resume(ctx context.Context, taskID string) error {
	ctx = services.WithTaskID(ctx, taskID)
	logger := logging.WithContext(ctx, e.logger)

	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "resume", "load", "task lookup failed", err)
	}
	if task.Status == taskstore.StatusCompleted {
		logger.Info("resume skipped, task already completed")
		return nil
	}

	state := newState(taskID, task.Prompt)
	state.Approved = true

	workspace := e.pad.GetWorkspace(taskID)
	state.ResearchData = stringField(workspace, fieldResearch)
	state.Draft = stringField(workspace, fieldDraft)

	if strings.TrimSpace(state.Draft) == "" {
		if strings.TrimSpace(state.ResearchData) == "" {
			return services.Wrap(services.ErrNotFound, "resume", "recover",
				fmt.Sprintf("workspace for task %s lost, cannot rebuild draft", taskID), nil)
		}
		logger.Warn("draft missing from scratchpad, re-running writing stage")
		if err := e.writingNode(ctx, logger, state); err != nil {
			return err
		}
	}

	return e.finalizeNode(ctx, logger, state)
}

func (e *Engine) finalizeNode(ctx context.Context, logger *slog.Logger, state *State) error {
	state.FinalResult = state.Draft
	state.AppendLog("System", "Task approved; finalizing result")

	if err := e.store.StoreResult(ctx, state.TaskID, state.FinalResult, state.drainLogs()); err != nil {
		return services.Wrap(services.ErrTransient, "finalize", "store result", "persisting final result failed", err)
	}
	state.Status = taskstore.StatusCompleted

	e.pad.DeleteWorkspace(state.TaskID)
	logger.Info("task completed", logging.String(logging.FieldStage, "finalize"))

	if e.notifier != nil {
		if err := e.notifier.NotifyTaskCompleted(ctx, state.TaskID); err != nil {
			logger.Warn("completion notification failed", logging.Error(err))
		}
	}
	return nil
}

// reconcileStatus mirrors the in-flight state into the durable store. The
// store treats unknown tasks and invalid statuses as logged no-ops, so a
// reconciliation problem never aborts a stage.
func (e *Engine) reconcileStatus(ctx context.Context, logger *slog.Logger, state *State, status taskstore.Status) {
	if state.Status == status {
		return
	}
	state.Status = status
	if err := e.store.UpdateStatus(ctx, state.TaskID, status); err != nil {
		logger.Warn("status reconciliation failed",
			logging.String("status", string(status)),
			logging.Error(err),
		)
	}
}

func (e *Engine) persistWorkspace(logger *slog.Logger, state *State) {
	saved, err := e.pad.SetWorkspace(state.TaskID, state.workspace())
	if err != nil {
		logger.Warn("workspace persist rejected", logging.Error(err))
		return
	}
	if !saved {
		logger.Warn("workspace persist skipped, scratchpad unavailable")
	}
}

func (e *Engine) flushLogs(ctx context.Context, logger *slog.Logger, state *State) {
	entries := state.drainLogs()
	if len(entries) == 0 {
		return
	}
	if err := e.store.AppendLogs(ctx, state.TaskID, entries); err != nil {
		logger.Warn("appending task logs failed", logging.Error(err))
	}
}
