package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"salesbot/internal/config"
	"salesbot/internal/infrastructure"
)

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <path-or-url>",
		Short: "Run the vision classifier on one image and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig((*config.Config).ValidateOpenAI)
			if err != nil {
				return err
			}
			vocab, err := loadVocabulary(cfg)
			if err != nil {
				return err
			}
			client := infrastructure.NewOpenAIClient(cfg.OpenAI, vocab, infrastructure.NewLogger(cfg.Server.LogLevel), nil)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(client.Classify(cmd.Context(), args[0]))
		},
	}
}
