package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edrsec/processchain/internal/audit"
	"github.com/edrsec/processchain/internal/cache"
	"github.com/edrsec/processchain/internal/chain"
	"github.com/edrsec/processchain/internal/config"
	"github.com/edrsec/processchain/internal/history"
	"github.com/edrsec/processchain/internal/httpapi"
	"github.com/edrsec/processchain/internal/index"
	"github.com/edrsec/processchain/internal/logging"
	"github.com/sirupsen/logrus"
)

func main() {
	cfgFile := flag.String("config", "", "config file (default: .processchain/config.yaml)")
	verbose := flag.Bool("verbose", false, "verbose output")
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if err := logging.Initialize(logging.ProductionConfig("logs/processchain-api.log")); err != nil {
		logger.WithError(err).Warn("failed to initialize file logging, falling back to stdout")
	}
	defer logging.Close()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		logger.WithError(err).Warn("failed to load config, using defaults")
		cfg = config.Default()
	}
	cfg.ValidateOrFatal(config.ValidationContextServe)

	ctx := context.Background()

	cacheBackend, err := cache.NewBackend(ctx, cfg.Cache)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize cache backend")
	}
	defer cacheBackend.Close()
	logger.WithField("type", cfg.Cache.Type).Info("cache backend ready")

	facade := index.NewHTTPFacade(cfg.Index, cacheBackend, cfg.Cache.TTL)

	historyStore, err := history.NewRepository(cfg.History)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize history store")
	}
	defer historyStore.Close()
	logger.WithField("type", cfg.History.Type).Info("history store ready")

	var auditClient *audit.Client
	if cfg.Audit.Enabled {
		auditClient, err = audit.NewClient(ctx, cfg.Audit.PostgresDSN)
		if err != nil {
			logger.WithError(err).Fatal("failed to initialize audit client")
		}
		defer auditClient.Close()
		logger.Info("audit client ready")
	}

	limits := chain.Limits{
		MaxTraverseDepth: cfg.Limits.MaxTraverseDepth,
		MaxLogsPerNode:   cfg.Limits.MaxLogsPerNode,
		MaxNodeCount:     cfg.Limits.MaxNodeCount,
		MaxExtDepth:      cfg.Limits.MaxExtDepth,
		MaxQuerySize:     cfg.Limits.MaxQuerySize,
	}

	server := httpapi.NewServer(cfg.Server, httpapi.Deps{
		Facade:  facade,
		Cache:   cacheBackend,
		History: historyStore,
		Audit:   auditClient,
		Limits:  limits,
		Logger:  logger,
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("error during graceful shutdown")
		}
	}()

	if err := server.Start(); err != nil {
		logger.WithError(err).Fatal("http server stopped unexpectedly")
	}
}
