package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"path"

	"github.com/spf13/cobra"

	"github.com/bnema/botmaestro/internal/profile"
	"github.com/bnema/botmaestro/maestro"
)

func newLoginCmd(app *app) *cobra.Command {
	var (
		server       string
		organization string
		key          string
		taskID       string
		insecure     bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log into a portal and save the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			keyRemembered := false
			if key == "" {
				stored, err := app.keys.Get(ctx, workspaceKeyRef(server, organization))
				if err == nil {
					key = stored
					keyRemembered = true
				} else {
					app.logger.Debug("no remembered workspace key", "err", err)
				}
			}

			client := maestro.New(maestro.Config{
				Server:             server,
				Login:              organization,
				Key:                key,
				TaskID:             taskID,
				InsecureSkipVerify: insecure,
				HTTPClient:         app.httpClient,
				Logger:             app.logger,
			})
			if err := client.Login(ctx); err != nil {
				return err
			}

			if !keyRemembered {
				if err := app.keys.Put(ctx, workspaceKeyRef(server, organization), key); err != nil {
					app.logger.Warn("could not remember workspace key", "err", err)
				}
			}

			session := profile.Session{
				Server:       client.Server(),
				Organization: client.Organization(),
				Token:        client.AccessToken(),
				Version:      client.Version(),
				TaskID:       taskID,
				SavedAt:      app.now(),
			}
			if err := app.sessions.Save(ctx, session); err != nil {
				return fmt.Errorf("save session: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logged into %s (portal version %s)\n",
				client.Server(), client.Version())
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", app.env.GetString("server"), "Portal base URL (env BM_SERVER)")
	cmd.Flags().StringVar(&organization, "organization", app.env.GetString("organization"), "Workspace login label (env BM_ORGANIZATION)")
	cmd.Flags().StringVar(&key, "key", app.env.GetString("key"), "Workspace access key (env BM_KEY); omit to reuse a remembered key")
	cmd.Flags().StringVar(&taskID, "task", app.env.GetString("task-id"), "Default task id for task-scoped commands (env BM_TASK_ID)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")

	return cmd
}

func newLogoutCmd(app *app) *cobra.Command {
	var forgetKey bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if forgetKey {
				session, err := app.sessions.Load(ctx)
				if err != nil {
					if errors.Is(err, profile.ErrNoSession) {
						return errors.New("no saved session, cannot tell which workspace key to forget")
					}
					return err
				}
				if err := app.keys.Delete(ctx, workspaceKeyRef(session.Server, session.Organization)); err != nil {
					return fmt.Errorf("forget workspace key: %w", err)
				}
			}

			if err := app.sessions.Clear(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}

	cmd.Flags().BoolVar(&forgetKey, "forget-key", false, "Also drop the remembered workspace key")

	return cmd
}

// workspaceKeyRef names the slot a workspace key is remembered under,
// one per portal host and organization.
func workspaceKeyRef(server, organization string) string {
	host := server
	if u, err := url.Parse(server); err == nil && u.Host != "" {
		host = u.Host
	}
	if organization == "" {
		organization = "default"
	}
	return path.Join("portal", host, organization, "workspace_key")
}
