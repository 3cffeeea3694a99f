package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"loom/internal/agents"
	"loom/internal/api"
	"loom/internal/config"
	"loom/internal/daemon"
	"loom/internal/dispatch"
	"loom/internal/logging"
	"loom/internal/scratchpad"
	"loom/internal/taskstore"
	"loom/internal/testsupport"
	"loom/internal/tools"
	"loom/internal/workflow"
)

func startDaemon(t *testing.T) (*daemon.Daemon, *config.Config) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	logger := logging.NewNop()
	store := testsupport.MustOpenStore(t, cfg)
	pad := scratchpad.New(cfg.Paths.ScratchpadDir, logger)

	queue, err := dispatch.OpenQueue(cfg, logger)
	if err != nil {
		t.Fatalf("OpenQueue: %v", err)
	}
	t.Cleanup(func() { queue.Close() })

	research := agents.NewResearchAgent(agents.FallbackGenerator{}, logger)
	writing := agents.NewWritingAgent(agents.FallbackGenerator{}, logger)
	engine := workflow.New(store, pad, research, writing, nil, logger)
	dispatcher := dispatch.New(cfg, queue, store, engine, nil, logger)
	tasks := api.NewTaskService(store, dispatcher, logger)

	d, err := daemon.New(cfg, store, pad, tasks, dispatcher, "fallback", logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)
	return d, cfg
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func getSnapshot(t *testing.T, base, taskID string) api.TaskSnapshot {
	t.Helper()
	resp, err := http.Get(base + "/api/tasks/" + taskID)
	if err != nil {
		t.Fatalf("GET task: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("GET task status = %d", resp.StatusCode)
	}
	var snapshot api.TaskSnapshot
	decodeBody(t, resp, &snapshot)
	return snapshot
}

func waitForStatus(t *testing.T, base, taskID, want string) api.TaskSnapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var last api.TaskSnapshot
	for time.Now().Before(deadline) {
		last = getSnapshot(t, base, taskID)
		if last.Status == want {
			return last
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("task %s stuck in %s, want %s", taskID, last.Status, want)
	return last
}

func TestSubmitApproveComplete(t *testing.T) {
	d, _ := startDaemon(t)
	base := "http://" + d.Addr()

	resp := postJSON(t, base+"/api/tasks", map[string]string{"prompt": "Compare LangGraph and CrewAI"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created api.TaskSnapshot
	decodeBody(t, resp, &created)
	if created.TaskID == "" {
		t.Fatal("create response missing task_id")
	}

	paused := waitForStatus(t, base, created.TaskID, string(taskstore.StatusAwaitingApproval))
	if paused.Result != nil {
		t.Fatal("result must be null while awaiting approval")
	}

	resp = postJSON(t, base+"/api/tasks/"+created.TaskID+"/approve", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d", resp.StatusCode)
	}
	var outcome api.ApprovalOutcome
	decodeBody(t, resp, &outcome)
	if !outcome.Approved {
		t.Fatalf("outcome = %+v, want approved", outcome)
	}

	done := waitForStatus(t, base, created.TaskID, string(taskstore.StatusCompleted))
	if done.Result == nil || !strings.Contains(*done.Result, "Technical Comparison Summary") {
		t.Fatalf("result = %v", done.Result)
	}
	if len(done.AgentLogs) < 3 {
		t.Fatalf("agent logs = %d, want at least 3", len(done.AgentLogs))
	}
}

func TestFlakyPromptSurvivesToolRetry(t *testing.T) {
	d, _ := startDaemon(t)
	base := "http://" + d.Addr()

	resp := postJSON(t, base+"/api/tasks", map[string]string{"prompt": tools.FlakyMarker})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created api.TaskSnapshot
	decodeBody(t, resp, &created)

	waitForStatus(t, base, created.TaskID, string(taskstore.StatusAwaitingApproval))

	resp = postJSON(t, base+"/api/tasks/"+created.TaskID+"/approve", nil)
	resp.Body.Close()

	done := waitForStatus(t, base, created.TaskID, string(taskstore.StatusCompleted))
	if done.Result == nil {
		t.Fatal("flaky task must still produce a result")
	}
}

func TestCreateRejectsEmptyPrompt(t *testing.T) {
	d, _ := startDaemon(t)
	base := "http://" + d.Addr()

	resp := postJSON(t, base+"/api/tasks", map[string]string{"prompt": "   "})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetUnknownTaskReturns404(t *testing.T) {
	d, _ := startDaemon(t)
	base := "http://" + d.Addr()

	resp, err := http.Get(base + "/api/tasks/does-not-exist")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestApproveOutsideGateReportsCurrentStatus(t *testing.T) {
	d, _ := startDaemon(t)
	base := "http://" + d.Addr()

	resp := postJSON(t, base+"/api/tasks", map[string]string{"prompt": "Compare engines"})
	var created api.TaskSnapshot
	decodeBody(t, resp, &created)

	done := waitForStatus(t, base, created.TaskID, string(taskstore.StatusAwaitingApproval))

	// First approval releases the gate.
	resp = postJSON(t, base+"/api/tasks/"+done.TaskID+"/approve", nil)
	resp.Body.Close()
	waitForStatus(t, base, created.TaskID, string(taskstore.StatusCompleted))

	// Second approval is a no-op on the completed task.
	resp = postJSON(t, base+"/api/tasks/"+created.TaskID+"/approve", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d", resp.StatusCode)
	}
	var outcome api.ApprovalOutcome
	decodeBody(t, resp, &outcome)
	if outcome.Approved {
		t.Fatal("completed task must not be approvable")
	}
	if outcome.Status != string(taskstore.StatusCompleted) {
		t.Fatalf("outcome status = %s", outcome.Status)
	}
}

func TestStatusAndHealthEndpoints(t *testing.T) {
	d, _ := startDaemon(t)
	base := "http://" + d.Addr()

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	var report api.StatusReport
	decodeBody(t, resp, &report)
	if !report.Running {
		t.Fatal("status must report running")
	}
	if !report.ScratchpadOK {
		t.Fatal("scratchpad should be healthy in tests")
	}
	if report.GenerationMode != "fallback" {
		t.Fatalf("generation mode = %q", report.GenerationMode)
	}

	resp, err = http.Get(base + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	var health map[string]string
	decodeBody(t, resp, &health)
	if health["status"] != "ok" {
		t.Fatalf("health = %v", health)
	}
}

func TestListEndpointFiltersByStatus(t *testing.T) {
	d, _ := startDaemon(t)
	base := "http://" + d.Addr()

	resp := postJSON(t, base+"/api/tasks", map[string]string{"prompt": "Compare engines"})
	var created api.TaskSnapshot
	decodeBody(t, resp, &created)
	waitForStatus(t, base, created.TaskID, string(taskstore.StatusAwaitingApproval))

	resp, err := http.Get(base + "/api/tasks?status=AWAITING_APPROVAL")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	var listing struct {
		Tasks []api.TaskSnapshot `json:"tasks"`
	}
	decodeBody(t, resp, &listing)
	if len(listing.Tasks) != 1 || listing.Tasks[0].TaskID != created.TaskID {
		t.Fatalf("listing = %+v", listing.Tasks)
	}

	resp, err = http.Get(base + "/api/tasks?status=bogus")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus status filter = %d, want 400", resp.StatusCode)
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	d, cfg := startDaemon(t)
	_ = d

	logger := logging.NewNop()
	store := testsupport.MustOpenStore(t, cfg)
	pad := scratchpad.New(cfg.Paths.ScratchpadDir, logger)
	queue, err := dispatch.OpenQueue(cfg, logger)
	if err != nil {
		t.Fatalf("OpenQueue: %v", err)
	}
	t.Cleanup(func() { queue.Close() })

	research := agents.NewResearchAgent(agents.FallbackGenerator{}, logger)
	writing := agents.NewWritingAgent(agents.FallbackGenerator{}, logger)
	engine := workflow.New(store, pad, research, writing, nil, logger)
	dispatcher := dispatch.New(cfg, queue, store, engine, nil, logger)
	tasks := api.NewTaskService(store, dispatcher, logger)

	second, err := daemon.New(cfg, store, pad, tasks, dispatcher, "fallback", logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	startErr := second.Start(context.Background())
	if startErr == nil {
		second.Stop()
		t.Fatal("second instance must fail to start")
	}
	if !strings.Contains(startErr.Error(), "already running") {
		t.Fatalf("error = %v", startErr)
	}
}

