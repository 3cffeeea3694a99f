package taskstore_test

import (
	"context"
	"errors"
	"testing"

	"loom/internal/taskstore"
	"loom/internal/testsupport"
)

func TestCreateAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	task := testsupport.NewTask(t, store, "task-1", "Compare frameworks")

	if task.Status != taskstore.StatusPending {
		t.Fatalf("expected PENDING, got %s", task.Status)
	}
	if task.HasResult {
		t.Fatal("new task must not carry a result")
	}
	if len(task.AgentLogs) != 0 {
		t.Fatalf("new task must start with empty logs, got %d", len(task.AgentLogs))
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}

	fetched, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Prompt != "Compare frameworks" {
		t.Fatalf("unexpected prompt: %q", fetched.Prompt)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.NewTask(t, store, "task-1", "first")
	if _, err := store.Create(context.Background(), "task-1", "second"); !errors.Is(err, taskstore.ErrDuplicateTask) {
		t.Fatalf("expected ErrDuplicateTask, got %v", err)
	}
}

func TestGetUnknownTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, taskstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// The failed lookup must not create a record as a side effect.
	tasks, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected empty store, got %d tasks", len(tasks))
	}
}

func TestUpdateStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewTask(t, store, "task-1", "prompt")

	if err := store.UpdateStatus(ctx, "task-1", taskstore.StatusRunning); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	task, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Status != taskstore.StatusRunning {
		t.Fatalf("expected RUNNING, got %s", task.Status)
	}
}

func TestUpdateStatusInvalidIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewTask(t, store, "task-1", "prompt")

	if err := store.UpdateStatus(ctx, "task-1", taskstore.Status("SPINNING")); err != nil {
		t.Fatalf("invalid status must be a logged no-op, got %v", err)
	}
	task, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Status != taskstore.StatusPending {
		t.Fatalf("expected status unchanged, got %s", task.Status)
	}
}

func TestUpdateStatusMissingTaskIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if err := store.UpdateStatus(context.Background(), "ghost", taskstore.StatusRunning); err != nil {
		t.Fatalf("missing task must be a logged no-op, got %v", err)
	}
}

func TestAppendLogsPreservesOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewTask(t, store, "task-1", "prompt")

	first := []taskstore.AgentLogEntry{
		taskstore.NewLogEntry("ResearchAgent", "Research started"),
		taskstore.NewLogEntry("ResearchAgent", "Research completed"),
	}
	second := []taskstore.AgentLogEntry{
		taskstore.NewLogEntry("WritingAgent", "Writing started"),
	}

	if err := store.AppendLogs(ctx, "task-1", first); err != nil {
		t.Fatalf("AppendLogs failed: %v", err)
	}
	if err := store.AppendLogs(ctx, "task-1", second); err != nil {
		t.Fatalf("AppendLogs failed: %v", err)
	}
	if err := store.AppendLogs(ctx, "task-1", nil); err != nil {
		t.Fatalf("empty append must be a no-op, got %v", err)
	}

	task, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(task.AgentLogs) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(task.AgentLogs))
	}
	if task.AgentLogs[0].Action != "Research started" || task.AgentLogs[2].Agent != "WritingAgent" {
		t.Fatalf("append order not preserved: %+v", task.AgentLogs)
	}
}

func TestStoreResultIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewTask(t, store, "task-1", "prompt")

	entry := []taskstore.AgentLogEntry{taskstore.NewLogEntry("System", "Workflow completed")}
	if err := store.StoreResult(ctx, "task-1", "final text", entry); err != nil {
		t.Fatalf("StoreResult failed: %v", err)
	}

	task, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Status != taskstore.StatusCompleted || task.Result != "final text" {
		t.Fatalf("unexpected finalized task: %+v", task)
	}
	logCount := len(task.AgentLogs)

	// A second finalize must change nothing.
	if err := store.StoreResult(ctx, "task-1", "overwritten", entry); err != nil {
		t.Fatalf("second StoreResult failed: %v", err)
	}
	task, err = store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Result != "final text" {
		t.Fatalf("result overwritten by duplicate finalize: %q", task.Result)
	}
	if len(task.AgentLogs) != logCount {
		t.Fatalf("duplicate finalize appended logs: %d -> %d", logCount, len(task.AgentLogs))
	}
}

func TestMarkFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewTask(t, store, "task-1", "prompt")

	if err := store.MarkFailed(ctx, "task-1", "retries exhausted", nil); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	task, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Status != taskstore.StatusFailed {
		t.Fatalf("expected FAILED, got %s", task.Status)
	}
	if task.HasResult {
		t.Fatal("failed task must not carry a result")
	}
	if len(task.AgentLogs) == 0 {
		t.Fatal("expected failure log entry")
	}
}

func TestMarkFailedDoesNotTouchCompleted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewTask(t, store, "task-1", "prompt")
	if err := store.StoreResult(ctx, "task-1", "done", nil); err != nil {
		t.Fatalf("StoreResult failed: %v", err)
	}

	if err := store.MarkFailed(ctx, "task-1", "late failure", nil); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	task, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Status != taskstore.StatusCompleted {
		t.Fatalf("completed task must stay completed, got %s", task.Status)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewTask(t, store, "task-a", "a")
	testsupport.NewTask(t, store, "task-b", "b")
	if err := store.UpdateStatus(ctx, "task-b", taskstore.StatusRunning); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	running, err := store.List(ctx, taskstore.StatusRunning)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(running) != 1 || running[0].ID != "task-b" {
		t.Fatalf("unexpected filtered result: %+v", running)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(all))
	}
}

func TestStatsAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewTask(t, store, "task-a", "a")
	testsupport.NewTask(t, store, "task-b", "b")
	if err := store.UpdateStatus(ctx, "task-b", taskstore.StatusAwaitingApproval); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Pending != 1 || health.AwaitingApproval != 1 {
		t.Fatalf("unexpected health summary: %+v", health)
	}
}

func TestParseStatus(t *testing.T) {
	cases := []struct {
		input string
		want  taskstore.Status
		ok    bool
	}{
		{"PENDING", taskstore.StatusPending, true},
		{"awaiting_approval", taskstore.StatusAwaitingApproval, true},
		{" completed ", taskstore.StatusCompleted, true},
		{"", "", false},
		{"SPINNING", "", false},
	}
	for _, tc := range cases {
		got, ok := taskstore.ParseStatus(tc.input)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Errorf("ParseStatus(%q) = (%q, %v), want (%q, %v)", tc.input, got, ok, tc.want, tc.ok)
		}
	}
}
