// Package main provides the entrypoint for the subsetd API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/modisviirs/subsetd/internal/api"
	"github.com/modisviirs/subsetd/internal/api/middleware"
	"github.com/modisviirs/subsetd/internal/config"
	"github.com/modisviirs/subsetd/internal/provider/resilience"
	"github.com/modisviirs/subsetd/internal/subset"
	"github.com/modisviirs/subsetd/internal/subset/ornl"
	"github.com/modisviirs/subsetd/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "subsetd"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := newLogger(cfg.Logging)
	log.Info().
		Str("build_time", BuildTime).
		Str("environment", cfg.Environment).
		Msg("starting subsetd")

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.Endpoint).
			Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize http metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	subsetMetrics, err := telemetry.NewSubsetMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize subset metrics")
		os.Exit(1)
	}

	registry := resilience.NewRegistry()
	clientCfg := cfg.Transport.ClientConfig(ornl.ProviderName)
	clientCfg.Registry = registry
	clientCfg.Logger = log

	service, err := subset.NewService(subset.ServiceConfig{
		Transport: ornl.NewClient(ornl.ClientConfig{
			HTTPClient: resilience.NewClient(clientCfg),
			UserAgent:  cfg.Subset.UserAgent,
			Logger:     log,
		}),
		Config:  cfg.Subset.ServiceConfig(),
		Logger:  log,
		Metrics: subsetMetrics,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create subset service")
	}
	log.Info().
		Str("endpoint", service.Endpoint()).
		Int("chunk_size", service.ChunkSize()).
		Msg("subset service initialized")

	router := api.NewRouter(api.RouterConfig{
		Version:    Version,
		BuildTime:  BuildTime,
		Logger:     log,
		Metrics:    httpMetrics,
		Service:    service,
		Registry:   registry,
		RateLimit:  cfg.Server.RateLimit,
		RequireTLS: cfg.Server.RequireTLS,
	})

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if cfg.Format == "console" {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		base = zerolog.New(os.Stdout)
	}

	return base.Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()
}
