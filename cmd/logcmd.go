package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/botmaestro/maestro"
)

func newLogCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Manage execution logs",
	}

	cmd.AddCommand(
		newLogCreateCmd(app),
		newLogAddCmd(app),
		newLogReadCmd(app),
		newLogDeleteCmd(app),
	)

	return cmd
}

func newLogCreateCmd(app *app) *cobra.Command {
	var (
		label   string
		columns []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an execution log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			parsed, err := parseColumns(columns)
			if err != nil {
				return err
			}

			if _, err := client.NewLog(cmd.Context(), label, parsed); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created log %s with %d columns\n", label, len(parsed))
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Log activity label")
	cmd.Flags().StringArrayVar(&columns, "column", nil, "Column as name:identifier[:width] (repeatable)")
	_ = cmd.MarkFlagRequired("label")
	_ = cmd.MarkFlagRequired("column")

	return cmd
}

// parseColumns reads name:identifier[:width] specs.
func parseColumns(specs []string) ([]maestro.Column, error) {
	columns := make([]maestro.Column, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid column spec %q: use name:identifier[:width]", spec)
		}
		column := maestro.Column{Name: parts[0], Label: parts[1], Width: 100}
		if len(parts) == 3 {
			width, err := strconv.Atoi(parts[2])
			if err != nil {
				return nil, fmt.Errorf("invalid column width in %q: %w", spec, err)
			}
			column.Width = width
		}
		columns = append(columns, column)
	}
	return columns, nil
}

func newLogAddCmd(app *app) *cobra.Command {
	var (
		label  string
		values []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append one row to an execution log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			row, err := parseKeyValues(values)
			if err != nil {
				return err
			}

			if _, err := client.NewLogEntry(cmd.Context(), label, row); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Appended row to log %s\n", label)
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Log activity label")
	cmd.Flags().StringArrayVar(&values, "value", nil, "Row value as column=value (repeatable)")
	_ = cmd.MarkFlagRequired("label")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

func newLogReadCmd(app *app) *cobra.Command {
	var (
		label  string
		date   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read an execution log's rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			rows, err := client.GetLog(cmd.Context(), label, date)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			out := cmd.OutOrStdout()
			for i, row := range rows {
				parts := make([]string, 0, len(row))
				for key, value := range row {
					parts = append(parts, fmt.Sprintf("%s=%v", key, value))
				}
				_, _ = fmt.Fprintf(out, "%d\t%s\n", i, strings.Join(parts, "\t"))
			}
			_, _ = fmt.Fprintf(out, "%d rows\n", len(rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Log activity label")
	cmd.Flags().StringVar(&date, "date", "", "Read entries on or after this day, DD/MM/YYYY")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("label")

	return cmd
}

func newLogDeleteCmd(app *app) *cobra.Command {
	var (
		label string
		yes   bool
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an execution log and all its entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete log %q without --yes", label)
			}
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			if _, err := client.DeleteLog(cmd.Context(), label); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted log %s\n", label)
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Log activity label")
	_ = cmd.MarkFlagRequired("label")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting the log and its entries")

	return cmd
}
