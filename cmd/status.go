package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/botmaestro/internal/profile"
	statusadapter "github.com/bnema/botmaestro/internal/render/status"
)

func newStatusCmd(app *app) *cobra.Command {
	var (
		poolLabels []string
		asJSON     bool
		staleAfter time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the saved session and optional pool counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := loadReport(cmd, app, poolLabels)
			if err != nil {
				return err
			}
			return writeReportOutput(cmd, app, report, staleAfter, asJSON)
		},
	}

	cmd.Flags().StringSliceVar(&poolLabels, "pool", nil, "Pool label to include counters for (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 30*24*time.Hour, "Mark the session stale after this long")

	return cmd
}

func loadReport(cmd *cobra.Command, app *app, poolLabels []string) (statusadapter.Report, error) {
	session, err := app.sessions.Load(cmd.Context())
	if err != nil {
		if errors.Is(err, profile.ErrNoSession) {
			return statusadapter.Report{}, nil
		}
		return statusadapter.Report{}, err
	}

	report := statusadapter.Report{Session: session}
	if len(poolLabels) == 0 {
		return report, nil
	}

	client, _, err := app.client(cmd.Context())
	if err != nil {
		return statusadapter.Report{}, err
	}

	for _, label := range poolLabels {
		pool, err := client.GetDataPool(cmd.Context(), label)
		if err != nil {
			return statusadapter.Report{}, fmt.Errorf("load pool %s: %w", label, err)
		}
		summary, err := pool.Summary(cmd.Context())
		if err != nil {
			return statusadapter.Report{}, fmt.Errorf("load pool %s counters: %w", label, err)
		}
		report.Pools = append(report.Pools, statusadapter.PoolStatus{
			Label:   pool.Label,
			Active:  pool.Active,
			Summary: summary,
		})
	}

	return report, nil
}

func writeReportOutput(cmd *cobra.Command, app *app, report statusadapter.Report, staleAfter time.Duration, asJSON bool) error {
	if asJSON {
		report.Session.Token = ""
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	rendered, err := app.statusRenderer(report, statusadapter.RenderOptions{
		Now:        app.now(),
		StaleAfter: staleAfter,
	})
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}
