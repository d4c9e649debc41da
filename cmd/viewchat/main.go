// Package main is the entry point for the viewchat sync daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/viewchat/internal/bridge"
	"github.com/onnwee/viewchat/internal/config"
	"github.com/onnwee/viewchat/internal/geo"
	"github.com/onnwee/viewchat/internal/objectstore"
	"github.com/onnwee/viewchat/internal/session"
	"github.com/onnwee/viewchat/internal/store"
	"github.com/onnwee/viewchat/internal/syncer"
	"github.com/onnwee/viewchat/internal/visit"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("ViewChat sync daemon")
		fmt.Println()
		fmt.Println("Usage: viewchat [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := bridge.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	logger.Info("configuration loaded")
	for key, val := range cfg.LogSummary() {
		logger.Debug("config", slog.String(key, val))
	}

	registry := prometheus.NewRegistry()

	sess := session.New()
	locator := bridge.NewLocator()

	geoMetrics := geo.NewMetrics()
	if err := geoMetrics.Register(registry); err != nil {
		logger.Error("failed to register geo metrics", "error", err)
		os.Exit(1)
	}

	providers := make([]geo.ProviderSpec, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, geo.ProviderSpec{
			Name:               p.Name,
			URL:                p.URL,
			Timeout:            time.Duration(p.TimeoutSeconds) * time.Second,
			InsecureSkipVerify: p.InsecureSkipVerify,
		})
	}

	aggregator, err := geo.NewAggregator(geo.AggregatorConfig{
		Providers:      providers,
		Locator:        locator,
		PreciseTimeout: cfg.PreciseTimeout(),
		CacheTTL:       cfg.GeoCacheTTL(),
		Logger:         logger,
		Metrics:        geoMetrics,
	})
	if err != nil {
		logger.Error("failed to build geo aggregator", "error", err)
		os.Exit(1)
	}

	gated := &syncer.GatedAcquirer{
		Geo:                 aggregator,
		Session:             sess,
		RequireConsentForIP: cfg.RequireConsentForIP,
	}

	storeClient, err := store.NewClient(store.Config{
		BaseURL:       cfg.StoreBaseURL,
		APIKey:        cfg.StoreAPIKey,
		MessagesTable: cfg.MessagesTable,
		VisitsTable:   cfg.VisitsTable,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("failed to build store client", "error", err)
		os.Exit(1)
	}

	uploader, err := buildUploader(cfg, logger)
	if err != nil {
		logger.Error("failed to build object store client", "error", err)
		os.Exit(1)
	}

	syncMetrics := syncer.NewMetrics()
	if err := syncMetrics.Register(registry); err != nil {
		logger.Error("failed to register sync metrics", "error", err)
		os.Exit(1)
	}

	loop, err := syncer.NewLoop(syncer.Config{
		Store:    storeClient,
		Geo:      gated,
		Uploader: uploader,
		Session:  sess,
		Interval: cfg.SyncInterval(),
		Logger:   logger,
		Metrics:  syncMetrics,
	})
	if err != nil {
		logger.Error("failed to build sync loop", "error", err)
		os.Exit(1)
	}

	recorder, err := visit.NewRecorder(visit.RecorderConfig{
		Store:  storeClient,
		Geo:    gated,
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to build visit recorder", "error", err)
		os.Exit(1)
	}

	server, err := bridge.NewServer(bridge.ServerConfig{
		Loop:     loop,
		Session:  sess,
		Locator:  locator,
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to build bridge server", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One visit event per session, best-effort.
	go recorder.RecordOnce(ctx, sess)

	go func() {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sync loop exited", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting bridge server", slog.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("stopped")
}

// buildUploader selects the attachment backend from configuration.
// No backend configured means attachments are disabled.
func buildUploader(cfg *config.Config, logger *slog.Logger) (objectstore.Uploader, error) {
	switch cfg.ObjectBackend {
	case "":
		return nil, nil
	case config.BackendREST:
		baseURL := cfg.ObjectBaseURL
		if baseURL == "" {
			baseURL = cfg.StoreBaseURL
		}
		return objectstore.NewRESTClient(objectstore.RESTConfig{
			BaseURL: baseURL,
			Token:   cfg.ObjectToken,
			Bucket:  cfg.Bucket,
			Logger:  logger,
		})
	case config.BackendS3:
		return objectstore.NewS3Client(objectstore.S3Config{
			Bucket:          cfg.Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
			Endpoint:        cfg.S3Endpoint,
			PublicBaseURL:   cfg.S3PublicBaseURL,
		})
	default:
		return nil, fmt.Errorf("unknown object backend %q", cfg.ObjectBackend)
	}
}
