package cmd

import (
	"context"
	"fmt"

	"github.com/relaymail/relaymail/lib"
	"github.com/relaymail/relaymail/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// appFactory builds the application for commands that need the database.
type appFactory func(cfg lib.Configuration, log *zap.Logger) (*server.App, error)

type cli struct {
	configPath string
	cfg        lib.Configuration
	log        *zap.Logger
	openApp    appFactory
}

func Execute() error {
	return newRootCmd(server.NewApp).ExecuteContext(context.Background())
}

func newRootCmd(openApp appFactory) *cobra.Command {
	c := &cli{openApp: openApp}

	rootCmd := &cobra.Command{
		Use:          "relaymail",
		Short:        "Transactional email relay",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := lib.LoadConfig(c.configPath)
			if err != nil {
				return err
			}
			log, err := lib.NewLogger(cfg.Settings.Log)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			c.cfg = cfg
			c.log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to config.yaml")

	rootCmd.AddCommand(c.startServerCmd())
	rootCmd.AddCommand(c.dbCmd())
	rootCmd.AddCommand(c.accountsCmd())
	rootCmd.AddCommand(c.keysCmd())
	rootCmd.AddCommand(c.sendCmd())
	rootCmd.AddCommand(c.configCmd())
	return rootCmd
}

// withApp opens the application, runs fn and closes it again.
func (c *cli) withApp(fn func(app *server.App) error) error {
	app, err := c.openApp(c.cfg, c.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			c.log.Warn("close application", zap.Error(err))
		}
	}()
	return fn(app)
}

func (c *cli) startServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(app *server.App) error {
				return server.StartServer(cmd.Context(), app)
			})
		},
	}
}
