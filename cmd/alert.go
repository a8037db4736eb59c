package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/botmaestro/maestro"
)

func newAlertCmd(app *app) *cobra.Command {
	var (
		title     string
		message   string
		alertType string
	)

	cmd := &cobra.Command{
		Use:   "alert TASK_ID",
		Short: "Register an alert on a task's timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			parsed, err := parseAlertType(alertType)
			if err != nil {
				return err
			}

			if _, err := client.Alert(cmd.Context(), args[0], title, message, parsed); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Alert sent for task %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Alert title")
	cmd.Flags().StringVar(&message, "message", "", "Alert message")
	cmd.Flags().StringVar(&alertType, "type", "info", "Alert type: info, warn or error")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("message")

	return cmd
}

func parseAlertType(raw string) (maestro.AlertType, error) {
	switch strings.ToLower(raw) {
	case "info":
		return maestro.AlertInfo, nil
	case "warn", "warning":
		return maestro.AlertWarn, nil
	case "error":
		return maestro.AlertError, nil
	default:
		return "", fmt.Errorf("unknown alert type %q: use info, warn or error", raw)
	}
}
