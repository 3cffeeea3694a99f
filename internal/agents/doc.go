// Package agents implements the stage functions of the workflow: research
// gathering and draft writing. Agents are pure with respect to persistence;
// the workflow engine owns status transitions and durable logging.
package agents
