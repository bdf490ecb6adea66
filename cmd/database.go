package cmd

import (
	"fmt"
	"time"

	"github.com/relaymail/relaymail/lib"
	"github.com/relaymail/relaymail/server"
	"github.com/spf13/cobra"
)

func (c *cli) dbCmd() *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database related commands",
	}
	dbCmd.AddCommand(c.migrateCmd())
	dbCmd.AddCommand(c.seedCmd())
	dbCmd.AddCommand(c.sweepCmd())
	return dbCmd
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables from models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(app *server.App) error {
				if err := lib.Migrate(app.DB); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All tables migrated successfully")
				return nil
			})
		},
	}
}

func (c *cli) seedCmd() *cobra.Command {
	var opts seedOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create mock accounts, keys and email logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(app *server.App) error {
				return createMockData(cmd.Context(), cmd.OutOrStdout(), app, opts)
			})
		},
	}
	cmd.Flags().IntVar(&opts.Accounts, "accounts", 2, "number of accounts")
	cmd.Flags().IntVar(&opts.KeysPerAccount, "keys", 1, "api keys per account")
	cmd.Flags().IntVar(&opts.EmailsPerKey, "emails", 3, "email logs per key")
	return cmd
}

func (c *cli) sweepCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark email logs stuck in pending as failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return c.withApp(func(app *server.App) error {
				n, err := app.Logs.SweepPending(cmd.Context(), time.Now().UTC().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %d pending email logs as failed\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 15*time.Minute, "only sweep entries created before now minus this duration")
	return cmd
}
