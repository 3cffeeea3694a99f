package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"loom/internal/agents"
	"loom/internal/logging"
	"loom/internal/notify"
	"loom/internal/scratchpad"
	"loom/internal/services"
	"loom/internal/taskstore"
	"loom/internal/testsupport"
	"loom/internal/workflow"
)

type recordingNotifier struct {
	mu        sync.Mutex
	approvals []string
	completed []string
	failed    []string
}

func (n *recordingNotifier) NotifyApprovalNeeded(_ context.Context, taskID, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approvals = append(n.approvals, taskID)
	return nil
}

func (n *recordingNotifier) NotifyTaskCompleted(_ context.Context, taskID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, taskID)
	return nil
}

func (n *recordingNotifier) NotifyTaskFailed(_ context.Context, taskID, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, taskID+": "+reason)
	return nil
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

type failingAgent struct {
	name string
	err  error
}

func (a failingAgent) Name() string { return a.name }

func (a failingAgent) Run(context.Context, string, string) (string, error) {
	return "", a.err
}

type harness struct {
	store    *taskstore.Store
	pad      *scratchpad.Cache
	engine   *workflow.Engine
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	pad := scratchpad.New(cfg.Paths.ScratchpadDir, logging.NewNop())
	notifier := &recordingNotifier{}

	research := agents.NewResearchAgent(agents.FallbackGenerator{}, logging.NewNop())
	writing := agents.NewWritingAgent(agents.FallbackGenerator{}, logging.NewNop())
	engine := workflow.New(store, pad, research, writing, notifier, logging.NewNop())

	return &harness{store: store, pad: pad, engine: engine, notifier: notifier}
}

func hasLogAction(logs []taskstore.AgentLogEntry, fragment string) bool {
	for _, entry := range logs {
		if strings.Contains(entry.Action, fragment) {
			return true
		}
	}
	return false
}

func TestExecutePausesAtApprovalGate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testsupport.NewTask(t, h.store, "task-1", "compare workflow engines")

	if err := h.engine.Execute(ctx, "task-1", "compare workflow engines"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	task, err := h.store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Status != taskstore.StatusAwaitingApproval {
		t.Fatalf("status = %s, want AWAITING_APPROVAL", task.Status)
	}
	if task.HasResult {
		t.Fatal("result must stay unset until approval")
	}
	if len(task.AgentLogs) < 3 {
		t.Fatalf("expected at least 3 agent logs, got %d", len(task.AgentLogs))
	}
	for _, fragment := range []string{"Research started", "Research completed", "Writing completed", "Awaiting human approval"} {
		if !hasLogAction(task.AgentLogs, fragment) {
			t.Fatalf("missing log action %q in %+v", fragment, task.AgentLogs)
		}
	}

	workspace := h.pad.GetWorkspace("task-1")
	if workspace == nil {
		t.Fatal("workspace should be persisted")
	}
	draft, _ := workspace["draft"].(string)
	if !strings.Contains(draft, "Technical Comparison Summary") {
		t.Fatalf("workspace draft = %q", draft)
	}
	research, _ := workspace["research_data"].(string)
	if !strings.Contains(research, "Research notes for:") {
		t.Fatalf("workspace research = %q", research)
	}

	if len(h.notifier.approvals) != 1 || h.notifier.approvals[0] != "task-1" {
		t.Fatalf("approval notifications = %v", h.notifier.approvals)
	}
}

func TestExecuteReturnsResearchError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testsupport.NewTask(t, h.store, "task-1", "anything")

	stageErr := errors.New("backend unreachable")
	writing := agents.NewWritingAgent(agents.FallbackGenerator{}, logging.NewNop())
	engine := workflow.New(h.store, h.pad, failingAgent{name: "ResearchAgent", err: stageErr}, writing, h.notifier, logging.NewNop())

	err := engine.Execute(ctx, "task-1", "anything")
	if !errors.Is(err, stageErr) {
		t.Fatalf("Execute error = %v, want wrapped stage error", err)
	}

	task, getErr := h.store.Get(ctx, "task-1")
	if getErr != nil {
		t.Fatalf("Get: %v", getErr)
	}
	if task.Status != taskstore.StatusRunning {
		t.Fatalf("status = %s, want RUNNING (dispatch owns failure marking)", task.Status)
	}
	if !hasLogAction(task.AgentLogs, "Research failed") {
		t.Fatalf("missing failure log in %+v", task.AgentLogs)
	}
}

func TestResumeFinalizesApprovedTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testsupport.NewTask(t, h.store, "task-1", "compare engines")

	if err := h.engine.Execute(ctx, "task-1", "compare engines"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := h.engine.Resume(ctx, "task-1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	task, err := h.store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Status != taskstore.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", task.Status)
	}
	if !task.HasResult || !strings.Contains(task.Result, "Technical Comparison Summary") {
		t.Fatalf("result = %q", task.Result)
	}
	if !hasLogAction(task.AgentLogs, "finalizing result") {
		t.Fatalf("missing finalize log in %+v", task.AgentLogs)
	}
	if h.pad.GetWorkspace("task-1") != nil {
		t.Fatal("workspace should be deleted after finalize")
	}
	if len(h.notifier.completed) != 1 {
		t.Fatalf("completion notifications = %v", h.notifier.completed)
	}
}

func TestResumeTwiceIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testsupport.NewTask(t, h.store, "task-1", "compare engines")

	if err := h.engine.Execute(ctx, "task-1", "compare engines"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := h.engine.Resume(ctx, "task-1"); err != nil {
		t.Fatalf("first Resume: %v", err)
	}
	first, err := h.store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := h.engine.Resume(ctx, "task-1"); err != nil {
		t.Fatalf("second Resume: %v", err)
	}
	second, err := h.store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if second.Result != first.Result {
		t.Fatal("second resume must not change the result")
	}
	if len(second.AgentLogs) != len(first.AgentLogs) {
		t.Fatalf("second resume appended logs: %d -> %d", len(first.AgentLogs), len(second.AgentLogs))
	}
}

func TestResumeRebuildsDraftFromResearchData(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testsupport.NewTask(t, h.store, "task-1", "compare engines")

	if err := h.engine.Execute(ctx, "task-1", "compare engines"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	workspace := h.pad.GetWorkspace("task-1")
	delete(workspace, "draft")
	if _, err := h.pad.SetWorkspace("task-1", workspace); err != nil {
		t.Fatalf("SetWorkspace: %v", err)
	}

	if err := h.engine.Resume(ctx, "task-1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	task, err := h.store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Status != taskstore.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", task.Status)
	}
	if !strings.Contains(task.Result, "Technical Comparison Summary") {
		t.Fatalf("result = %q", task.Result)
	}
}

func TestResumeFailsWhenWorkspaceLost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testsupport.NewTask(t, h.store, "task-1", "compare engines")

	if err := h.engine.Execute(ctx, "task-1", "compare engines"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	h.pad.DeleteWorkspace("task-1")

	err := h.engine.Resume(ctx, "task-1")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("Resume error = %v, want not-found marker", err)
	}
	if services.Retryable(err) {
		t.Fatal("lost workspace must not be retried")
	}

	task, getErr := h.store.Get(ctx, "task-1")
	if getErr != nil {
		t.Fatalf("Get: %v", getErr)
	}
	if task.HasResult {
		t.Fatal("no result may be stored when the workspace is lost")
	}
}

func TestResumeUnknownTask(t *testing.T) {
	h := newHarness(t)
	err := h.engine.Resume(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("error = %v, want not-found marker", err)
	}
}

var _ notify.Service = (*recordingNotifier)(nil)
