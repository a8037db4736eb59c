package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "bm",
		Short:         "bm: talk to an automation orchestration portal from the terminal",
		Long:          "bm drives an automation orchestration portal: log in once, then queue and finish tasks, send alerts and messages, manage execution logs, artifacts, credentials and datapools.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	rootCmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		if verbose {
			app.logLevel.Set(slog.LevelDebug)
		}
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newLoginCmd(app),
		newLogoutCmd(app),
		newStatusCmd(app),
		newTaskCmd(app),
		newAlertCmd(app),
		newMessageCmd(app),
		newLogCmd(app),
		newArtifactCmd(app),
		newCredentialCmd(app),
		newErrorCmd(app),
		newPoolCmd(app),
	)

	return rootCmd
}
