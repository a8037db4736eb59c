package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/botmaestro/maestro"
)

func newMessageCmd(app *app) *cobra.Command {
	var (
		emails   []string
		users    []string
		subject  string
		body     string
		bodyType string
		group    string
	)

	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send an email through the portal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(emails) == 0 && len(users) == 0 {
				return errors.New("at least one --email or --user recipient is required")
			}

			client, _, err := app.client(cmd.Context())
			if err != nil {
				return err
			}

			parsed, err := parseMessageType(bodyType)
			if err != nil {
				return err
			}

			if _, err := client.Message(cmd.Context(), emails, users, subject, body, parsed, group); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Message queued for %d recipients\n", len(emails)+len(users))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&emails, "email", nil, "Recipient email address (repeatable)")
	cmd.Flags().StringArrayVar(&users, "user", nil, "Recipient portal login (repeatable)")
	cmd.Flags().StringVar(&subject, "subject", "", "Message subject")
	cmd.Flags().StringVar(&body, "body", "", "Message body")
	cmd.Flags().StringVar(&bodyType, "type", "text", "Body format: text or html")
	cmd.Flags().StringVar(&group, "group", "", "Message group label")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("body")

	return cmd
}

func parseMessageType(raw string) (maestro.MessageType, error) {
	switch strings.ToLower(raw) {
	case "text":
		return maestro.MessageText, nil
	case "html":
		return maestro.MessageHTML, nil
	default:
		return "", fmt.Errorf("unknown message type %q: use text or html", raw)
	}
}
