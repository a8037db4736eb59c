package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCredentialCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Read and store credential secrets",
	}

	cmd.AddCommand(
		newCredentialGetCmd(app),
		newCredentialSetCmd(app),
	)

	return cmd
}

func newCredentialGetCmd(app *app) *cobra.Command {
	var (
		label string
		key   string
	)

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Read one secret value",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			value, err := client.GetCredential(cmd.Context(), label, key)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Credential set label")
	cmd.Flags().StringVar(&key, "key", "", "Secret key inside the set")
	_ = cmd.MarkFlagRequired("label")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func newCredentialSetCmd(app *app) *cobra.Command {
	var (
		label string
		key   string
		value string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store a secret, creating the credential set when needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			if err := client.CreateCredential(cmd.Context(), label, key, value); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored %s/%s\n", label, key)
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Credential set label")
	cmd.Flags().StringVar(&key, "key", "", "Secret key inside the set")
	cmd.Flags().StringVar(&value, "value", "", "Secret value")
	_ = cmd.MarkFlagRequired("label")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}
