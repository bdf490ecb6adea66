package cmd

import (
	"errors"
	"fmt"

	"github.com/relaymail/relaymail/lib/relay"
	"github.com/relaymail/relaymail/server"
	"github.com/spf13/cobra"
)

// sendCmd relays one email through the same pipeline POST /api/v1/send uses.
// It is the smoke test for a freshly configured deployment.
func (c *cli) sendCmd() *cobra.Command {
	var token string
	var req relay.Request

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send an email with an API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(app *server.App) error {
				result, err := app.Pipeline.HandleSend(cmd.Context(), "Bearer "+token, req)
				if err != nil {
					var relayErr *relay.Error
					if errors.As(err, &relayErr) {
						return fmt.Errorf("%s (%d): %s", relayErr.Kind, relayErr.Kind.HTTPStatus(), relayErr.Message)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (log id %d)\n", result.Message, result.Id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "API key")
	cmd.Flags().StringVar(&req.To, "to", "", "recipient address")
	cmd.Flags().StringVar(&req.Subject, "subject", "", "subject line")
	cmd.Flags().StringVar(&req.Body, "body", "", "plain text body")
	cmd.Flags().StringVar(&req.HTML, "html", "", "HTML body")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}
