package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/smartsafety/safetyvision/internal/conf"
)

// Command creates the command that validates the configuration and prints
// the effective settings.
func Command(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate configuration and print the effective settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := conf.Load(*configFile)
			if err != nil {
				return err
			}
			redact(settings)

			out, err := yaml.Marshal(settings)
			if err != nil {
				return fmt.Errorf("failed to encode settings: %w", err)
			}
			source := settings.ConfigFile
			if source == "" {
				source = "defaults and environment"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n%s", source, out)
			return nil
		},
	}
}

// redact blanks credentials before the settings are printed.
func redact(s *conf.Settings) {
	const mask = "********"
	if s.Database.MySQL.Password != "" {
		s.Database.MySQL.Password = mask
	}
	if s.Notification.MQTT.Password != "" {
		s.Notification.MQTT.Password = mask
	}
	if s.Sentry.DSN != "" {
		s.Sentry.DSN = mask
	}
	for i := range s.Notification.Shoutrrr.URLs {
		s.Notification.Shoutrrr.URLs[i] = mask
	}
}
