package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/relaymail/relaymail/lib"
	"github.com/relaymail/relaymail/server"
	"github.com/spf13/cobra"
)

func (c *cli) accountsCmd() *cobra.Command {
	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Account management",
	}

	var email, password string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(app *server.App) error {
				account, err := app.Accounts.Create(cmd.Context(), email, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created account %d (%s)\n", account.Id, account.Email)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&email, "email", "", "account email")
	createCmd.Flags().StringVar(&password, "password", "", "account password")
	_ = createCmd.MarkFlagRequired("email")
	_ = createCmd.MarkFlagRequired("password")

	accountsCmd.AddCommand(createCmd)
	return accountsCmd
}

func (c *cli) keysCmd() *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "API key management",
	}
	var email string
	keysCmd.PersistentFlags().StringVar(&email, "email", "", "owning account email")
	_ = keysCmd.MarkPersistentFlagRequired("email")

	var name string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(app *server.App) error {
				account, err := app.Accounts.ByEmail(cmd.Context(), email)
				if err != nil {
					return err
				}
				key, err := app.Keys.Create(cmd.Context(), account.Id, name)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created key %d (%s)\n", key.Id, key.Name)
				fmt.Fprintf(out, "Token: %s\n", key.Token)
				fmt.Fprintln(out, "The token is shown only once.")
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "key name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(app *server.App) error {
				account, err := app.Accounts.ByEmail(cmd.Context(), email)
				if err != nil {
					return err
				}
				keys, err := app.Keys.List(cmd.Context(), account.Id)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tKEY\tCREATED\tLAST USED")
				for _, k := range keys {
					lastUsed := "never"
					if k.LastUsed != nil {
						lastUsed = k.LastUsed.UTC().Format("2006-01-02 15:04")
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
						k.Id, k.Name, k.KeyToken, k.CreatedAt.UTC().Format("2006-01-02 15:04"), lastUsed)
				}
				return tw.Flush()
			})
		},
	}

	var id uint
	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(app *server.App) error {
				account, err := app.Accounts.ByEmail(cmd.Context(), email)
				if err != nil {
					return err
				}
				err = app.Keys.Revoke(cmd.Context(), account.Id, id)
				if errors.Is(err, lib.ErrKeyNotFound) {
					return fmt.Errorf("key %d not found for %s", id, account.Email)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked key %d\n", id)
				return nil
			})
		},
	}
	revokeCmd.Flags().UintVar(&id, "id", 0, "key id")
	_ = revokeCmd.MarkFlagRequired("id")

	keysCmd.AddCommand(createCmd, listCmd, revokeCmd)
	return keysCmd
}
