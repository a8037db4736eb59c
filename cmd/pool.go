package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/botmaestro/maestro/datapool"
)

func newPoolCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage datapools and their entries",
	}

	cmd.AddCommand(
		newPoolCreateCmd(app),
		newPoolShowCmd(app),
		newPoolActivateCmd(app),
		newPoolDeactivateCmd(app),
		newPoolDeleteCmd(app),
		newPoolPushCmd(app),
		newPoolNextCmd(app),
		newPoolEntryCmd(app),
		newPoolFinishCmd(app),
	)

	return cmd
}

func newPoolCreateCmd(app *app) *cobra.Command {
	var (
		label       string
		automation  string
		consumption string
		trigger     string
		schema      []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new datapool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			pool := datapool.New(label, automation)
			if consumption != "" {
				pool.ConsumptionPolicy = strings.ToUpper(consumption)
			}
			if trigger != "" {
				pool.Trigger = strings.ToUpper(trigger)
			}
			if len(schema) > 0 {
				pool.Schema = schema
			}

			if _, err := client.CreateDataPool(cmd.Context(), pool); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created pool %s\n", label)
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Pool label")
	cmd.Flags().StringVar(&automation, "automation", "", "Default automation started for queued entries")
	cmd.Flags().StringVar(&consumption, "consumption", "", "Consumption policy: FIFO or LIFO")
	cmd.Flags().StringVar(&trigger, "trigger", "", "Trigger policy: ALWAYS, NEVER or NO_TASK_ACTIVE")
	cmd.Flags().StringArrayVar(&schema, "schema", nil, "Schema column (repeatable)")
	_ = cmd.MarkFlagRequired("label")
	_ = cmd.MarkFlagRequired("automation")

	return cmd
}

func newPoolShowCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show LABEL",
		Short: "Show a pool's configuration and counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			pool, err := client.GetDataPool(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			summary, err := pool.Summary(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Label   string
					Active  bool
					Policy  string
					Trigger string
					Summary datapool.Summary
				}{pool.Label, pool.Active, pool.ConsumptionPolicy, pool.Trigger, summary})
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "pool: %s\n", pool.Label)
			_, _ = fmt.Fprintf(out, "active: %t\n", pool.Active)
			_, _ = fmt.Fprintf(out, "consumption: %s\n", pool.ConsumptionPolicy)
			_, _ = fmt.Fprintf(out, "trigger: %s\n", pool.Trigger)
			_, _ = fmt.Fprintf(out, "pending: %d  processing: %d  done: %d  error: %d  timeout: %d\n",
				summary.CountPending, summary.CountProcessing, summary.CountDone,
				summary.CountError, summary.CountTimeout)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func newPoolActivateCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "activate LABEL",
		Short: "Turn a pool on so pulls hand out entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}
			pool, err := client.GetDataPool(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := pool.Activate(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Activated pool %s\n", args[0])
			return nil
		},
	}
}

func newPoolDeactivateCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate LABEL",
		Short: "Turn a pool off, keeping its entries queued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}
			pool, err := client.GetDataPool(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := pool.Deactivate(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deactivated pool %s\n", args[0])
			return nil
		},
	}
}

func newPoolDeleteCmd(app *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete LABEL",
		Short: "Remove a pool and everything queued in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete pool %q without --yes", args[0])
			}
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}
			pool, err := client.GetDataPool(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := pool.Delete(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted pool %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting the pool and its entries")

	return cmd
}

func newPoolPushCmd(app *app) *cobra.Command {
	var (
		values   []string
		priority int
	)

	cmd := &cobra.Command{
		Use:   "push LABEL",
		Short: "Queue a new entry into a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			payload, err := parseKeyValues(values)
			if err != nil {
				return err
			}

			pool, err := client.GetDataPool(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			entry, err := pool.CreateEntry(cmd.Context(), datapool.NewEntry(payload, priority))
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Queued entry %s (%s)\n", entry.ID, entry.State())
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&values, "value", nil, "Payload value as key=value (repeatable)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Consumption priority")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

func newPoolNextCmd(app *app) *cobra.Command {
	var taskID string

	cmd := &cobra.Command{
		Use:   "next LABEL",
		Short: "Claim the next pending entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, session, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			pool, err := client.GetDataPool(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			claimTask := taskID
			if claimTask == "" {
				claimTask = session.TaskID
			}

			entry, err := pool.Next(cmd.Context(), claimTask)
			if err != nil {
				return err
			}
			if entry == nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Pool %s has nothing to hand out\n", args[0])
				return nil
			}

			printEntry(cmd, entry)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskID, "task", "", "Task id recorded on the claim (defaults to the session task)")

	return cmd
}

func newPoolEntryCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "entry LABEL ENTRY_ID",
		Short: "Fetch one entry of a pool",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			pool, err := client.GetDataPool(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			entry, err := pool.GetEntry(cmd.Context(), args[1])
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					ID       string
					State    datapool.State
					Priority int
					TaskID   string
					Values   map[string]any
				}{entry.ID, entry.State(), entry.Priority, entry.TaskID, entry.Values})
			}

			printEntry(cmd, entry)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func newPoolFinishCmd(app *app) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "finish LABEL ENTRY_ID",
		Short: "Move a claimed entry to a terminal state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			pool, err := client.GetDataPool(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			entry, err := pool.GetEntry(cmd.Context(), args[1])
			if err != nil {
				return err
			}

			switch strings.ToLower(state) {
			case "done":
				err = entry.ReportDone(cmd.Context())
			case "error":
				err = entry.ReportError(cmd.Context())
			case "timeout":
				if err = entry.SetState(datapool.StateTimeout); err == nil {
					err = entry.Save(cmd.Context())
				}
			default:
				return fmt.Errorf("unknown entry state %q: use done, error or timeout", state)
			}
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Entry %s is now %s\n", entry.ID, entry.State())
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Terminal state: done, error or timeout")
	_ = cmd.MarkFlagRequired("state")

	return cmd
}

func printEntry(cmd *cobra.Command, entry *datapool.Entry) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "entry: %s\n", entry.ID)
	_, _ = fmt.Fprintf(out, "state: %s\n", entry.State())
	_, _ = fmt.Fprintf(out, "priority: %d\n", entry.Priority)
	if entry.TaskID != "" {
		_, _ = fmt.Fprintf(out, "task: %s\n", entry.TaskID)
	}
	for key, value := range entry.Values {
		_, _ = fmt.Fprintf(out, "value %s: %v\n", key, value)
	}
}
