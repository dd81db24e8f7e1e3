// Package cli wires configuration, storage and services into the safeback commands.
package cli

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/isdelr/safeback/internal/config"
	"github.com/isdelr/safeback/internal/logger"
)

var (
	cfg      *config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "safeback",
	Short: "Workspace snapshot, restore and retention service",
	Example: `safeback serve
safeback capture --workspace <id> --type pre_upgrade --reason "v2 migration"
safeback scheduler run-once --force
safeback token --user <user-id> --ttl 24h
safeback workspace create --id <id> --name <name>
safeback workspace add-member --workspace <id> --user <user-id> --role owner`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger.Init(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON, File: cfg.LogFile})
		log.Debug().Str("command", cmd.CommandPath()).Msg("Configuration loaded")
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override SAFEBACK_LOG_LEVEL")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(captureCmd())
	rootCmd.AddCommand(schedulerCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(workspaceCmd())
	rootCmd.AddCommand(dbCmd())

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}
