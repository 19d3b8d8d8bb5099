package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/hypetrain/hypetrain/internal/api"
	"github.com/hypetrain/hypetrain/internal/auth"
	"github.com/hypetrain/hypetrain/internal/config"
	"github.com/hypetrain/hypetrain/internal/credentials"
	"github.com/hypetrain/hypetrain/internal/database"
	"github.com/hypetrain/hypetrain/internal/ingestion"
	"github.com/hypetrain/hypetrain/internal/logging"
	"github.com/hypetrain/hypetrain/internal/metrics"
	"github.com/hypetrain/hypetrain/internal/moderation"
	"github.com/hypetrain/hypetrain/internal/postman"
	"github.com/hypetrain/hypetrain/internal/server"
	"github.com/hypetrain/hypetrain/internal/social"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("hypetrain stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting hypetrain")
	logger.Info("database configuration", "config", database.ConnectionSummary(cfg.Database))

	store, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	logger.Info("store ready", "driver", cfg.Database.Driver)

	collector, err := metrics.NewHTTPCollector()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	pipeline, err := metrics.NewPipeline(collector.Registry())
	if err != nil {
		return fmt.Errorf("failed to init pipeline metrics: %w", err)
	}

	twitter := social.NewTwitterClient(social.TwitterClientConfig{
		BaseURL:     cfg.Twitter.APIBaseURL,
		BearerToken: cfg.Twitter.BearerToken,
		ClientID:    cfg.Twitter.ClientID,
	}, logger)

	resolver := credentials.NewResolver(store.Accounts, twitter, pipeline, logger)
	limiter := rate.NewLimiter(rate.Limit(cfg.Twitter.ActionsPerSecond), cfg.Twitter.ActionsBurst)
	actions := social.NewActionClient(twitter, resolver, limiter, pipeline, logger)

	dispatcher := postman.New(
		store.Queue,
		store.Activity,
		store.Accounts,
		resolver,
		actions,
		postman.ConfigFromDispatch(cfg.Dispatch),
		pipeline,
		logger,
	)

	filter := ingestion.NewEligibilityFilter(
		store.Accounts,
		store.Queue,
		store.Activity,
		cfg.Filter,
		dispatcher,
		pipeline,
		logger,
	)

	consumer := ingestion.NewStreamConsumer(twitter, filter, ingestion.StreamConsumerConfig{
		URL:         cfg.Twitter.StreamURL,
		Policy:      ingestion.ReconnectPolicyFromConfig(cfg.Stream),
		IdleTimeout: cfg.Stream.IdleTimeout,
	}, pipeline, logger)

	authConfig, err := auth.ConfigFrom(cfg.Auth)
	if err != nil {
		return fmt.Errorf("invalid operator auth settings: %w", err)
	}
	logger.Info("auth configured", "operator_api_enabled", authConfig.Enabled())

	mux := http.NewServeMux()
	api.SetupRoutes(mux, api.Dependencies{
		Queue:    store.Queue,
		Activity: store.Activity,
		Store:    store,
		Stream:   consumer,
		Undoer:   moderation.NewService(store.Activity, resolver, actions, logger),
		Auth:     authConfig,
	}, logger)
	srv := server.New(cfg.Server, logger, mux, collector)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	// Ticks outlive the signal so the pass in flight can finish on Stop.
	if err := dispatcher.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	streamErr := make(chan error, 1)
	go func() {
		streamErr <- consumer.Run(ctx)
	}()

	logger.Info("hypetrain started", "port", cfg.Server.Port)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		<-streamErr
	case err := <-streamErr:
		if !errors.Is(err, context.Canceled) {
			runErr = err
		}
	case err := <-serverErr:
		runErr = err
	}

	stop()
	dispatcher.Stop()
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return runErr
}
