package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aerokeylabs/t4chat/internal/adapter/llm"
	"github.com/aerokeylabs/t4chat/internal/config"
	"github.com/aerokeylabs/t4chat/internal/hub"
	"github.com/aerokeylabs/t4chat/internal/metrics"
	"github.com/aerokeylabs/t4chat/internal/policy"
	"github.com/aerokeylabs/t4chat/internal/registry"
	"github.com/aerokeylabs/t4chat/internal/service"
	"github.com/aerokeylabs/t4chat/internal/store"
	transporthttp "github.com/aerokeylabs/t4chat/internal/transport/http"
	"github.com/aerokeylabs/t4chat/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.WithFields(logrus.Fields{
		"port":  cfg.HTTPPort,
		"store": cfg.StoreBackend,
		"mode":  cfg.RelayMode,
	}).Info("starting relay")

	// Initialize store
	var db store.Store
	switch cfg.StoreBackend {
	case config.StoreConvex:
		db = store.NewConvexStore(cfg.ConvexURL, cfg.ConvexAPIKey, cfg.ConvexTimeout)
	default:
		sqlite, err := store.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize store")
		}
		defer sqlite.Close()
		db = sqlite
	}

	// Initialize completion provider
	source, completer := llm.NewProvider(cfg.RelayMode, cfg.OpenRouterURL, cfg.OpenRouterAPIKey, cfg.OpenRouterTimeout, log)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize policy engine
	policyEngine, err := policy.NewEngineFromFile(ctx, cfg.PolicyFile)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize policy engine")
	}

	exporter := metrics.NewExporter(metrics.DefaultConfig())

	watchers := hub.NewHub(log)
	go watchers.Run(ctx)

	// Initialize service
	svc := service.New(service.Deps{
		Store:     db,
		Source:    source,
		Completer: completer,
		Registry:  registry.New(),
		Policy:    policyEngine,
		Metrics:   exporter,
		Publisher: watchers,
		Config:    cfg,
		Log:       log,
	})

	server := transporthttp.NewServer(svc, watchers, exporter, log)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("failed to start server")
		}
	}()
	log.Infof("relay listening on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("failed to shutdown server gracefully")
	}
	stop()

	log.Info("relay stopped")
}
