package main

import (
	"github.com/spf13/cobra"

	"salesbot/internal/config"
	"salesbot/internal/infrastructure"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the chat and catalog migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig((*config.Config).ValidateDatabases)
			if err != nil {
				return err
			}
			logger := infrastructure.NewLogger(cfg.Server.LogLevel)

			dbs, err := openDatabases(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer dbs.Close()
			return dbs.migrate(cfg, logger)
		},
	}
}
