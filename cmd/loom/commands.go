package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/api"
	"loom/internal/taskstore"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <prompt>",
		Short: "Submit a new task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			snapshot, err := client.CreateTask(strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task submitted: %s\n", snapshot.TaskID)
			fmt.Fprintf(cmd.OutOrStdout(), "Track it with: loom status %s\n", snapshot.TaskID)
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var showLogs bool

	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			snapshot, err := client.GetTask(args[0])
			if err != nil {
				return err
			}
			printSnapshot(cmd, snapshot, showLogs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showLogs, "logs", true, "Include agent log entries")
	return cmd
}

func printSnapshot(cmd *cobra.Command, snapshot api.TaskSnapshot, showLogs bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task:    %s\n", snapshot.TaskID)
	fmt.Fprintf(out, "Status:  %s\n", colorizeStatus(out, snapshot.Status))
	fmt.Fprintf(out, "Prompt:  %s\n", snapshot.Prompt)
	if snapshot.Status == string(taskstore.StatusAwaitingApproval) {
		fmt.Fprintf(out, "\nThis task is paused. Release it with: loom approve %s\n", snapshot.TaskID)
	}
	if snapshot.Result != nil {
		fmt.Fprintf(out, "\nResult:\n%s\n", *snapshot.Result)
	}
	if showLogs && len(snapshot.AgentLogs) > 0 {
		fmt.Fprintln(out, "\nAgent log:")
		rows := make([][]string, 0, len(snapshot.AgentLogs))
		for _, entry := range snapshot.AgentLogs {
			rows = append(rows, []string{entry.Timestamp, entry.Agent, entry.Action})
		}
		fmt.Fprintln(out, renderTable([]string{"Time", "Agent", "Action"}, rows))
	}
}

func newApproveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve a task waiting at the human gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			outcome, err := client.Approve(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if outcome.Approved {
				fmt.Fprintf(out, "Task %s approved, finalization queued\n", outcome.TaskID)
				return nil
			}
			fmt.Fprintf(out, "Task %s not approved: %s\n", outcome.TaskID, outcome.Detail)
			return nil
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			tasks, err := client.ListTasks(strings.TrimSpace(statusFilter))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks found")
				return nil
			}
			rows := make([][]string, 0, len(tasks))
			for _, task := range tasks {
				rows = append(rows, []string{
					task.TaskID,
					task.Status,
					truncate(task.Prompt, 60),
					task.CreatedAt,
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Task", "Status", "Prompt", "Created"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "Only show tasks with this status")
	return cmd
}

func truncate(value string, limit int) string {
	if limit <= 3 || len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}
