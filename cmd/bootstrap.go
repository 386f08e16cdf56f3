package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"salesbot/internal/config"
	"salesbot/internal/infrastructure"
	"salesbot/migrations"
)

// databases holds one pool per logical database. Both pools are opened even
// when they point at the same physical database so each keeps its own
// migration version table.
type databases struct {
	chat    *infrastructure.PostgresClient
	catalog *infrastructure.PostgresClient
}

func openDatabases(ctx context.Context, cfg *config.Config, logger *log.Logger) (*databases, error) {
	chat, err := infrastructure.NewPostgresClient(ctx, "chat", cfg.ChatDB.URL())
	if err != nil {
		return nil, err
	}
	catalog, err := infrastructure.NewPostgresClient(ctx, "catalog", cfg.CatalogDB.URL())
	if err != nil {
		chat.Close()
		return nil, err
	}
	if cfg.ChatDB.SameAs(cfg.CatalogDB) {
		logger.Info("catalog shares the chat database", "host", cfg.ChatDB.Host, "db", cfg.ChatDB.Name)
	}
	return &databases{chat: chat, catalog: catalog}, nil
}

func (d *databases) migrate(cfg *config.Config, logger *log.Logger) error {
	if err := d.chat.Migrate(cfg.ChatDB.URL(), migrations.FS, migrations.ChatDir); err != nil {
		return err
	}
	if err := d.catalog.Migrate(cfg.CatalogDB.URL(), migrations.FS, migrations.CatalogDir); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

func (d *databases) Close() {
	d.catalog.Close()
	d.chat.Close()
}

func loadConfig(validate func(*config.Config) error) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadVocabulary(cfg *config.Config) (*config.Vocabulary, error) {
	if cfg.VocabularyFile == "" {
		return config.DefaultVocabulary()
	}
	vocab, err := config.LoadVocabulary(cfg.VocabularyFile)
	if err != nil {
		return nil, fmt.Errorf("vocabulary %s: %w", cfg.VocabularyFile, err)
	}
	return vocab, nil
}
