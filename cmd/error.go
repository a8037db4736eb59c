package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/botmaestro/maestro"
)

func newErrorCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "error",
		Short: "Report runtime failures to the portal",
	}

	cmd.AddCommand(newErrorReportCmd(app))

	return cmd
}

func newErrorReportCmd(app *app) *cobra.Command {
	var (
		message     string
		errorType   string
		screenshot  string
		attachments []string
		tags        []string
	)

	cmd := &cobra.Command{
		Use:   "report TASK_ID",
		Short: "Publish a failure on a task's error timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("task id must be numeric: %w", err)
			}

			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			parsedTags, err := parseTags(tags)
			if err != nil {
				return err
			}

			errorID, err := client.ReportError(cmd.Context(), taskID, maestro.ErrorReport{
				Err:         errors.New(message),
				Type:        errorType,
				Screenshot:  screenshot,
				Attachments: attachments,
				Tags:        parsedTags,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reported error %s on task %d\n", errorID, taskID)
			return nil
		},
	}

	cmd.Flags().StringVar(&message, "message", "", "Error message")
	cmd.Flags().StringVar(&errorType, "type", "", "Error type label (defaults to a generic one)")
	cmd.Flags().StringVar(&screenshot, "screenshot", "", "Screenshot file to attach")
	cmd.Flags().StringArrayVar(&attachments, "attach", nil, "Extra file to attach (repeatable)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "Tag as key=value, merged over the machine tags (repeatable)")
	_ = cmd.MarkFlagRequired("message")

	return cmd
}

func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid tag %q: use key=value", pair)
		}
		tags[key] = value
	}
	return tags, nil
}
