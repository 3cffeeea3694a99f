package taskstore

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a task. The string values are part of
// the external API contract and must not change.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusRunning          Status = "RUNNING"
	StatusAwaitingApproval Status = "AWAITING_APPROVAL"
	StatusCompleted        Status = "COMPLETED"
	StatusFailed           Status = "FAILED"
)

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusAwaitingApproval,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AgentLogEntry is one append-only log line attached to a task. Entries are
// never reordered or removed; insertion order is the only meaningful order.
type AgentLogEntry struct {
	Agent     string `json:"agent"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

// NewLogEntry builds a log entry stamped with the current UTC time.
func NewLogEntry(agent, action string) AgentLogEntry {
	return AgentLogEntry{
		Agent:     agent,
		Action:    action,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Task is a durable task record. The store owns it exclusively; callers get
// snapshots and mutate through store operations only.
type Task struct {
	ID        string
	Prompt    string
	Status    Status
	Result    string
	HasResult bool
	AgentLogs []AgentLogEntry
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HealthSummary describes aggregated task counts per lifecycle state.
type HealthSummary struct {
	Total            int
	Pending          int
	Running          int
	AwaitingApproval int
	Completed        int
	Failed           int
}
