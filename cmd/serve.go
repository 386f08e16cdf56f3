package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"salesbot/internal/config"
	"salesbot/internal/infrastructure"
	httpiface "salesbot/internal/interfaces/http"
	"salesbot/internal/repository"
	"salesbot/internal/usecases"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run migrations and serve the webhook and panel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig((*config.Config).Validate)
	if err != nil {
		return err
	}
	logger := infrastructure.NewLogger(cfg.Server.LogLevel)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := infrastructure.NewMetrics(registry)

	dbs, err := openDatabases(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer dbs.Close()
	if err := dbs.migrate(cfg, logger); err != nil {
		return err
	}

	vocab, err := loadVocabulary(cfg)
	if err != nil {
		return err
	}

	llm := infrastructure.NewOpenAIClient(cfg.OpenAI, vocab, logger, metrics)
	twilio := infrastructure.NewTwilioClient(cfg.Twilio, logger)
	media := infrastructure.NewMediaStore(cfg.Media, cfg.Twilio, logger, metrics)
	if err := media.EnsureDir(); err != nil {
		return err
	}
	if cfg.Media.PublicBaseURL == "" {
		logger.Warn("PUBLIC_BASE_URL not set; images and quotes will not be attached")
	}

	conversations := repository.NewConversationRepository(dbs.chat.Pool)
	products := repository.NewProductRepository(dbs.catalog.Pool)

	router, err := usecases.NewSalesRouter(usecases.RouterDeps{
		Vocabulary:    vocab,
		LLM:           llm,
		Vision:        llm,
		Messenger:     twilio,
		Media:         media,
		Quotes:        infrastructure.NewQuoteRenderer(media.Dir(), cfg.Twilio.Number),
		Conversations: conversations,
		Catalog:       products,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	deps := httpiface.Dependencies{
		Router:        router,
		Dashboard:     usecases.NewDashboardUsecase(conversations, products, vocab),
		Middleware:    httpiface.NewMiddleware(cfg.Admin.JWTSecret),
		Databases:     []httpiface.HealthChecker{dbs.chat, dbs.catalog},
		Gatherer:      registry,
		Logger:        logger,
		PublicDir:     media.Dir(),
		StaticDir:     cfg.Media.StaticDir,
		PublicBaseURL: cfg.Media.PublicBaseURL,
	}
	if cfg.Admin.APIEnabled() {
		deps.Auth = usecases.NewAuthUsecase(cfg.Admin)
	} else {
		logger.Info("panel API disabled; set JWT_SECRET and ADMIN_PASSWORD_HASH to enable it")
	}
	if cfg.Twilio.ValidateSignature {
		deps.Signature = twilio
	}

	if cfg.Server.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	httpiface.SetupRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
