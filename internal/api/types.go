package api

import (
	"time"

	"loom/internal/taskstore"
)

// AgentLog is one durable task log entry in wire format.
type AgentLog struct {
	Agent     string `json:"agent"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

// TaskSnapshot describes a task in a transport-friendly format. Result is a
// pointer so clients can distinguish "no result yet" from an empty string.
type TaskSnapshot struct {
	TaskID    string     `json:"task_id"`
	Prompt    string     `json:"prompt"`
	Status    string     `json:"status"`
	Result    *string    `json:"result"`
	AgentLogs []AgentLog `json:"agent_logs"`
	CreatedAt string     `json:"created_at,omitempty"`
	UpdatedAt string     `json:"updated_at,omitempty"`
}

// ApprovalOutcome reports the effect of an approval request. Approved is
// false when the task was not waiting at the gate; Status then carries the
// task's unchanged state.
type ApprovalOutcome struct {
	TaskID   string `json:"task_id"`
	Approved bool   `json:"approved"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
}

// StatusReport summarizes daemon health for the status endpoint.
type StatusReport struct {
	Running        bool           `json:"running"`
	TaskCounts     map[string]int `json:"task_counts"`
	QueueStats     map[string]int `json:"queue_stats"`
	ScratchpadOK   bool           `json:"scratchpad_ok"`
	GenerationMode string         `json:"generation_mode"`
}

// FromTask converts a stored task into its wire representation.
func FromTask(task *taskstore.Task) TaskSnapshot {
	snapshot := TaskSnapshot{
		TaskID:    task.ID,
		Prompt:    task.Prompt,
		Status:    string(task.Status),
		AgentLogs: make([]AgentLog, 0, len(task.AgentLogs)),
	}
	if task.HasResult {
		result := task.Result
		snapshot.Result = &result
	}
	if !task.CreatedAt.IsZero() {
		snapshot.CreatedAt = task.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !task.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = task.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	for _, entry := range task.AgentLogs {
		snapshot.AgentLogs = append(snapshot.AgentLogs, AgentLog{
			Agent:     entry.Agent,
			Action:    entry.Action,
			Timestamp: entry.Timestamp,
		})
	}
	return snapshot
}

// FromTasks converts a task list.
func FromTasks(tasks []*taskstore.Task) []TaskSnapshot {
	out := make([]TaskSnapshot, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, FromTask(task))
	}
	return out
}
