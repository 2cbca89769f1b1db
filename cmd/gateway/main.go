package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MozzzieStudio/CinemaOS/internal/config"
	"github.com/MozzzieStudio/CinemaOS/internal/credits"
	"github.com/MozzzieStudio/CinemaOS/internal/gateway"
	"github.com/MozzzieStudio/CinemaOS/internal/logger"
	"github.com/MozzzieStudio/CinemaOS/internal/monitoring"
	"github.com/MozzzieStudio/CinemaOS/internal/provider"
	"github.com/MozzzieStudio/CinemaOS/internal/server"
	"github.com/MozzzieStudio/CinemaOS/internal/vault"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.LoggingLevel)
	if cfg.Server.LoggingFormat == "json" {
		log = logger.NewJSON(cfg.Server.LoggingLevel)
	}

	// Startup info (INFO level)
	log.Info("Starting CinemaOS gateway",
		"logging_level", cfg.Server.LoggingLevel,
		"logging_format", cfg.Server.LoggingFormat,
		"port", cfg.Server.Port,
		"vault_url", cfg.Vault.BaseURL,
		"max_concurrent_generations", cfg.Server.MaxConcurrentGenerations,
	)

	metrics := monitoring.New(cfg.Monitoring.PrometheusEnabled)

	var adapters []provider.Adapter
	if cfg.Providers.Fal.APIKey != "" {
		adapters = append(adapters, provider.NewFalAdapter(cfg.Providers.Fal.APIKey, log))
		log.Info("Provider configured", "provider", "fal")
	}
	if cfg.Providers.Vertex.ProjectID != "" {
		adapters = append(adapters, provider.NewVertexAdapter(provider.VertexConfig{
			ProjectID:       cfg.Providers.Vertex.ProjectID,
			Location:        cfg.Providers.Vertex.Location,
			CredentialsFile: cfg.Providers.Vertex.CredentialsFile,
			CredentialsJSON: cfg.Providers.Vertex.CredentialsJSON,
		}, log))
		log.Info("Provider configured",
			"provider", "vertex",
			"project_id", cfg.Providers.Vertex.ProjectID,
			"location", cfg.Providers.Vertex.Location,
		)
	}
	if len(adapters) == 0 {
		log.Warn("No providers configured; every generation request will be rejected")
	}

	gw := gateway.New(log, metrics, adapters...)
	log.Info("Model routes registered", "count", len(gw.Models()))

	cache, err := vault.NewTokenCache(cfg.Vault.TokenCacheSize, cfg.Vault.TokenCacheTTL)
	if err != nil {
		log.Error("Failed to create token cache", "error", err)
		os.Exit(1)
	}
	vaultClient := vault.NewClient(cfg.Vault.BaseURL, cfg.Vault.FallbackDir, cache, log, metrics)

	session := credits.NewSession()
	ledger := credits.NewLedger(session, cfg.Vault.BaseURL, log, metrics)

	// Start background metrics updater
	if cfg.Monitoring.PrometheusEnabled {
		go func() {
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				hits, misses := cache.Stats()
				metrics.UpdateTokenCacheStats(hits, misses)
				metrics.UpdateSessionCredits(session.Total())
			}
		}()
		log.Info("Metrics updater started (updates every 10 seconds)")
	}

	srv := server.New(gw, ledger, vaultClient, log, server.Options{
		ProjectID:                cfg.ProjectID,
		HealthCheckPath:          cfg.Monitoring.HealthCheckPath,
		MaxConcurrentGenerations: cfg.Server.MaxConcurrentGenerations,
		GenerationQueueSize:      cfg.Server.GenerationQueueSize,
	})

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())

	if cfg.Monitoring.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		log.Info("Prometheus metrics enabled", "path", "/metrics")
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Let queued generations finish before exiting.
	srv.Shutdown()

	log.Info("Server shutdown complete")
}
