package main

import (
	"fmt"
	"log/slog"

	"loom/internal/agents"
	"loom/internal/agents/llm"
	"loom/internal/api"
	"loom/internal/config"
	"loom/internal/daemon"
	"loom/internal/dispatch"
	"loom/internal/notify"
	"loom/internal/scratchpad"
	"loom/internal/taskstore"
	"loom/internal/workflow"
)

// buildDaemon wires the full service graph. The returned cleanup closes the
// job queue; the task store is closed through the daemon itself.
func buildDaemon(cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, func(), error) {
	store, err := taskstore.Open(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open task store: %w", err)
	}

	queue, err := dispatch.OpenQueue(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("open job queue: %w", err)
	}

	pad := scratchpad.New(cfg.Paths.ScratchpadDir, logger)
	notifier := notify.NewService(cfg)
	generator, mode := selectGenerator(cfg)

	research := agents.NewResearchAgent(generator, logger)
	writing := agents.NewWritingAgent(generator, logger)
	engine := workflow.New(store, pad, research, writing, notifier, logger)
	dispatcher := dispatch.New(cfg, queue, store, engine, notifier, logger)
	tasks := api.NewTaskService(store, dispatcher, logger)

	d, err := daemon.New(cfg, store, pad, tasks, dispatcher, mode, logger)
	if err != nil {
		_ = queue.Close()
		_ = store.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = queue.Close()
	}
	return d, cleanup, nil
}

// selectGenerator picks the remote client when credentials are configured and
// the deterministic fallback otherwise.
func selectGenerator(cfg *config.Config) (agents.Generator, string) {
	client := llm.NewClient(cfg.Generation)
	if client.Configured() {
		return client, "remote"
	}
	return agents.FallbackGenerator{}, "fallback"
}
