package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bnema/botmaestro/internal/profile"
	"github.com/bnema/botmaestro/maestro"
)

func newArtifactCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Upload, list and download task artifacts",
	}

	cmd.AddCommand(
		newArtifactUploadCmd(app),
		newArtifactListCmd(app),
		newArtifactGetCmd(app),
	)

	return cmd
}

func newArtifactUploadCmd(app *app) *cobra.Command {
	var (
		taskID int64
		name   string
	)

	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a file and attach it to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, session, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			resolvedTask, err := resolveTaskID(cmd, taskID, session)
			if err != nil {
				return err
			}

			artifactName := name
			if artifactName == "" {
				artifactName = filepath.Base(args[0])
			}

			if _, err := client.PostArtifact(cmd.Context(), resolvedTask, artifactName, args[0]); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s to task %d\n", artifactName, resolvedTask)
			return nil
		},
	}

	cmd.Flags().Int64Var(&taskID, "task", 0, "Task to attach the artifact to (defaults to the session task)")
	cmd.Flags().StringVar(&name, "name", "", "Artifact name (defaults to the file name)")

	return cmd
}

// resolveTaskID prefers the flag, then the task saved with the session.
func resolveTaskID(cmd *cobra.Command, flagValue int64, session profile.Session) (int64, error) {
	if cmd.Flags().Changed("task") {
		return flagValue, nil
	}
	if session.TaskID == "" {
		return 0, errors.New("a task id is required: pass --task or log in with one")
	}
	parsed, err := strconv.ParseInt(session.TaskID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("session task id %q is not numeric, pass --task", session.TaskID)
	}
	return parsed, nil
}

func newArtifactListCmd(app *app) *cobra.Command {
	var (
		days   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the organization's recent artifacts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			var artifacts []maestro.Artifact
			err = runFetchSpinner(cmd.Context(), cmd.ErrOrStderr(), "Fetching artifacts...", func(ctx context.Context) error {
				var fetchErr error
				artifacts, fetchErr = client.ListArtifacts(ctx, days)
				return fetchErr
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(artifacts)
			}

			out := cmd.OutOrStdout()
			for _, artifact := range artifacts {
				_, _ = fmt.Fprintf(out, "%d\t%s\ttask %d\t%s\n",
					artifact.ID, artifact.Name, artifact.TaskID, artifact.DateCreation)
			}
			_, _ = fmt.Fprintf(out, "%d artifacts\n", len(artifacts))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "How many days back to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func newArtifactGetCmd(app *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get ARTIFACT_ID",
		Short: "Download one artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			artifactID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("artifact id must be numeric: %w", err)
			}

			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			var (
				name    string
				content []byte
			)
			err = runFetchSpinner(cmd.Context(), cmd.ErrOrStderr(), "Downloading artifact...", func(ctx context.Context) error {
				var fetchErr error
				name, content, fetchErr = client.GetArtifact(ctx, artifactID)
				return fetchErr
			})
			if err != nil {
				return err
			}

			target := output
			if target == "" {
				target = name
			}
			if err := os.WriteFile(target, content, 0o644); err != nil {
				return fmt.Errorf("write artifact: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", target, len(content))
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Write to this path instead of the artifact's name")

	return cmd
}
