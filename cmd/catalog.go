package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"salesbot/internal/config"
	"salesbot/internal/infrastructure"
	"salesbot/internal/repository"
	"salesbot/migrations"
)

func newCatalogCmd() *cobra.Command {
	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the product catalog",
	}
	catalog.AddCommand(newCatalogImportCmd())
	return catalog
}

func newCatalogImportCmd() *cobra.Command {
	var replace bool
	c := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Load products from a CSV file (anchor,name,price_cents,stock[,image_url])",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig((*config.Config).ValidateDatabases)
			if err != nil {
				return err
			}
			vocab, err := loadVocabulary(cfg)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			db, err := infrastructure.NewPostgresClient(cmd.Context(), "catalog", cfg.CatalogDB.URL())
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(cfg.CatalogDB.URL(), migrations.FS, migrations.CatalogDir); err != nil {
				return err
			}

			n, err := repository.NewProductRepository(db.Pool).ImportCSV(cmd.Context(), f, vocab.Canonical, replace)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d products from %s\n", n, args[0])
			return nil
		},
	}
	c.Flags().BoolVar(&replace, "replace", false, "delete existing products first")
	return c
}
