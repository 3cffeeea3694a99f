// Package workflow implements the staged state machine that takes a task
// from submission through research, writing, a human approval pause, and
// finalization. The engine persists status and agent logs to the task store
// at each node boundary and stashes inter-stage data in the scratchpad so a
// paused task can resume after a process restart.
package workflow
