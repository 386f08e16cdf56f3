package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"salesbot/internal/config"
	"salesbot/internal/entities"
	"salesbot/internal/infrastructure"
)

func newCheckCmd() *cobra.Command {
	check := &cobra.Command{
		Use:   "check",
		Short: "Connectivity checks against the external services",
	}
	check.AddCommand(newCheckDBCmd(), newCheckOpenAICmd(), newCheckTwilioCmd())
	return check
}

func newCheckDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "db",
		Short: "Open one connection to each database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig((*config.Config).ValidateDatabases)
			if err != nil {
				return err
			}
			for _, db := range []struct {
				name string
				cfg  config.DBConfig
			}{{"chat", cfg.ChatDB}, {"catalog", cfg.CatalogDB}} {
				if err := infrastructure.CheckConnection(cmd.Context(), db.cfg.URL()); err != nil {
					return fmt.Errorf("%s database %s:%d/%s: %w", db.name, db.cfg.Host, db.cfg.Port, db.cfg.Name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s:%d/%s)\n", db.name, db.cfg.Host, db.cfg.Port, db.cfg.Name)
			}
			return nil
		},
	}
}

func newCheckOpenAICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "openai",
		Short: "List models with the configured API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig((*config.Config).ValidateOpenAI)
			if err != nil {
				return err
			}
			vocab, err := loadVocabulary(cfg)
			if err != nil {
				return err
			}
			client := infrastructure.NewOpenAIClient(cfg.OpenAI, vocab, infrastructure.NewLogger(cfg.Server.LogLevel), nil)
			if err := client.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "openai: ok")
			return nil
		},
	}
}

func newCheckTwilioCmd() *cobra.Command {
	var body string
	c := &cobra.Command{
		Use:   "twilio <to>",
		Short: "Send a template test message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig((*config.Config).ValidateTwilio)
			if err != nil {
				return err
			}
			client := infrastructure.NewTwilioClient(cfg.Twilio, infrastructure.NewLogger(cfg.Server.LogLevel))

			useTemplate := true
			sid, err := client.Send(cmd.Context(), args[0], body, entities.SendOptions{UseTemplate: &useTemplate})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "twilio: sent %s\n", sid)
			return nil
		},
	}
	c.Flags().StringVar(&body, "body", "Mensaje de prueba", "value for template variable 1")
	return c
}
