package cmd

import (
	"fmt"
	"net/url"

	"github.com/relaymail/relaymail/lib"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "REDACTED"

func (c *cli) configCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration related commands",
	}

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			if !showSecrets {
				cfg = redactConfig(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print passwords and secrets in clear text")

	configCmd.AddCommand(showCmd)
	return configCmd
}

// redactConfig hides passwords, the session secret and credentials embedded
// in connection URIs.
func redactConfig(cfg lib.Configuration) lib.Configuration {
	s := &cfg.Settings
	if s.SMTP.Password != "" {
		s.SMTP.Password = redacted
	}
	if s.Session.Secret != "" {
		s.Session.Secret = redacted
	}
	s.Database.URI = redactURI(s.Database.URI)
	s.Redis.URI = redactURI(s.Redis.URI)
	return cfg
}

func redactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
