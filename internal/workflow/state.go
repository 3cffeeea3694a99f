package workflow

import (
	"loom/internal/taskstore"
)

// Workspace payload fields persisted to the scratchpad between stages.
const (
	fieldInput    = "input"
	fieldResearch = "research_data"
	fieldDraft    = "draft"
	fieldStatus   = "status"
)

// State carries a single task's data between stage nodes. It lives only for
// the duration of one Execute or Resume call; everything that must survive a
// process restart goes through the task store or the scratchpad.
type State struct {
	TaskID       string
	Prompt       string
	ResearchData string
	Draft        string
	FinalResult  string
	Status       taskstore.Status
	Approved     bool

	logs []taskstore.AgentLogEntry
}

func newState(taskID, prompt string) *State {
	return &State{
		TaskID: taskID,
		Prompt: prompt,
		Status: taskstore.StatusPending,
	}
}

// AppendLog buffers a durable log entry. Buffered entries are flushed to the
// task store by the engine at node boundaries.
func (s *State) AppendLog(agent, action string) {
	s.logs = append(s.logs, taskstore.NewLogEntry(agent, action))
}

// Logs returns a copy of the buffered log entries.
func (s *State) Logs() []taskstore.AgentLogEntry {
	out := make([]taskstore.AgentLogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

// drainLogs returns the buffered entries and resets the buffer, so each
// flush writes every entry exactly once.
func (s *State) drainLogs() []taskstore.AgentLogEntry {
	out := s.logs
	s.logs = nil
	return out
}

func (s *State) workspace() map[string]any {
	return map[string]any{
		fieldInput:    s.Prompt,
		fieldResearch: s.ResearchData,
		fieldDraft:    s.Draft,
		fieldStatus:   string(s.Status),
	}
}

func stringField(workspace map[string]any, key string) string {
	if workspace == nil {
		return ""
	}
	value, ok := workspace[key].(string)
	if !ok {
		return ""
	}
	return value
}
