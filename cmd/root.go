package cmd

import (
	"github.com/spf13/cobra"

	"github.com/smartsafety/safetyvision/cmd/config"
	"github.com/smartsafety/safetyvision/cmd/serve"
)

// RootCommand creates and returns the root command
func RootCommand() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "safetyvision",
		Short:         "SafetyVision PPE compliance and alerting service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: search ., ~/.config/safetyvision, /etc/safetyvision)")

	rootCmd.AddCommand(
		serve.Command(&configFile),
		config.Command(&configFile),
	)
	return rootCmd
}
