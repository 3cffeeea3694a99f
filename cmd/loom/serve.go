package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"loom/internal/agents"
	"loom/internal/agents/llm"
	"loom/internal/api"
	"loom/internal/daemon"
	"loom/internal/dispatch"
	"loom/internal/logging"
	"loom/internal/notify"
	"loom/internal/scratchpad"
	"loom/internal/taskstore"
	"loom/internal/workflow"
)

// newServeCommand runs the daemon in the foreground, mainly for development
// and systemd-style supervision without a separate loomd invocation.
func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the loom daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := taskstore.Open(cfg, logger)
			if err != nil {
				return fmt.Errorf("open task store: %w", err)
			}
			queue, err := dispatch.OpenQueue(cfg, logger)
			if err != nil {
				_ = store.Close()
				return fmt.Errorf("open job queue: %w", err)
			}
			defer queue.Close()

			pad := scratchpad.New(cfg.Paths.ScratchpadDir, logger)
			notifier := notify.NewService(cfg)

			var generator agents.Generator = agents.FallbackGenerator{}
			mode := "fallback"
			if client := llm.NewClient(cfg.Generation); client.Configured() {
				generator = client
				mode = "remote"
			}

			research := agents.NewResearchAgent(generator, logger)
			writing := agents.NewWritingAgent(generator, logger)
			engine := workflow.New(store, pad, research, writing, notifier, logger)
			dispatcher := dispatch.New(cfg, queue, store, engine, notifier, logger)
			tasks := api.NewTaskService(store, dispatcher, logger)

			d, err := daemon.New(cfg, store, pad, tasks, dispatcher, mode, logger)
			if err != nil {
				_ = store.Close()
				return err
			}
			defer d.Close()

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := d.Start(runCtx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loom daemon listening on %s\n", d.Addr())

			<-runCtx.Done()
			return nil
		},
	}
}
