package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/botmaestro/maestro"
)

func newTaskCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Queue, inspect and finish automation tasks",
	}

	cmd.AddCommand(
		newTaskCreateCmd(app),
		newTaskGetCmd(app),
		newTaskFinishCmd(app),
		newTaskRestartCmd(app),
		newTaskInterruptCmd(app),
	)

	return cmd
}

func newTaskCreateCmd(app *app) *cobra.Command {
	var (
		label    string
		params   []string
		test     bool
		priority int
		after    string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Queue a task for an automation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			parameters, err := parseKeyValues(params)
			if err != nil {
				return err
			}

			opts := maestro.TaskOptions{Test: test, Priority: priority}
			if after != "" {
				opts.MinExecutionDate, err = time.Parse(time.RFC3339, after)
				if err != nil {
					return fmt.Errorf("parse --after: %w", err)
				}
			}

			task, err := client.CreateTask(cmd.Context(), label, parameters, opts)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created task %d (%s)\n", task.ID, task.State)
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Automation activity label")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Task parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&test, "test", false, "Mark the task as a test run")
	cmd.Flags().IntVar(&priority, "priority", 0, "Task priority, 0 to 10")
	cmd.Flags().StringVar(&after, "after", "", "Earliest execution time, RFC 3339")
	_ = cmd.MarkFlagRequired("label")

	return cmd
}

func newTaskGetCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get TASK_ID",
		Short: "Fetch one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			task, err := client.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(task)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "task: %d\n", task.ID)
			_, _ = fmt.Fprintf(out, "state: %s\n", task.State)
			_, _ = fmt.Fprintf(out, "activity: %s\n", task.ActivityLabel)
			if task.FinishStatus != "" {
				_, _ = fmt.Fprintf(out, "finish: %s %s\n", task.FinishStatus, task.FinishMessage)
			}
			if task.IsInterrupted() {
				_, _ = fmt.Fprintln(out, "interrupted: true")
			}
			for key, value := range task.Parameters {
				_, _ = fmt.Fprintf(out, "param %s: %v\n", key, value)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func newTaskFinishCmd(app *app) *cobra.Command {
	var (
		status  string
		message string

		total     int
		processed int
		failed    int
	)

	cmd := &cobra.Command{
		Use:   "finish TASK_ID",
		Short: "Report a task's terminal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			finishStatus, err := parseFinishStatus(status)
			if err != nil {
				return err
			}

			counts := maestro.ItemCounts{}
			if cmd.Flags().Changed("total") {
				counts.Total = maestro.Int(total)
			}
			if cmd.Flags().Changed("processed") {
				counts.Processed = maestro.Int(processed)
			}
			if cmd.Flags().Changed("failed") {
				counts.Failed = maestro.Int(failed)
			}

			if _, err := client.FinishTask(cmd.Context(), args[0], finishStatus, message, counts); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Finished task %s as %s\n", args[0], finishStatus)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", string(maestro.FinishSuccess), "Finish status: success, failed or partial")
	cmd.Flags().StringVar(&message, "message", "", "Finish message shown on the portal")
	cmd.Flags().IntVar(&total, "total", 0, "Total items the task worked on")
	cmd.Flags().IntVar(&processed, "processed", 0, "Items processed successfully")
	cmd.Flags().IntVar(&failed, "failed", 0, "Items that failed")

	return cmd
}

func parseFinishStatus(raw string) (maestro.FinishStatus, error) {
	switch strings.ToLower(raw) {
	case "success":
		return maestro.FinishSuccess, nil
	case "failed":
		return maestro.FinishFailed, nil
	case "partial", "partially_completed":
		return maestro.FinishPartiallyCompleted, nil
	default:
		return "", fmt.Errorf("unknown finish status %q: use success, failed or partial", raw)
	}
}

func newTaskRestartCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart TASK_ID",
		Short: "Put a finished task back on the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := client.RestartTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Restarted task %s\n", args[0])
			return nil
		},
	}
}

func newTaskInterruptCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "interrupt TASK_ID",
		Short: "Flag a running task for interruption",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := client.InterruptTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Interrupt requested for task %s\n", args[0])
			return nil
		},
	}
}
