// Package main is the entry point for the chamicore-ui dashboard backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"git.cscs.ch/openchami/chamicore-ui/internal/audit"
	"git.cscs.ch/openchami/chamicore-ui/internal/auth"
	"git.cscs.ch/openchami/chamicore-ui/internal/config"
	"git.cscs.ch/openchami/chamicore-ui/internal/events"
	"git.cscs.ch/openchami/chamicore-ui/internal/metrics"
	"git.cscs.ch/openchami/chamicore-ui/internal/server"
	"git.cscs.ch/openchami/chamicore-ui/internal/state"
	"git.cscs.ch/openchami/chamicore-ui/internal/syncer"
	"git.cscs.ch/openchami/chamicore-ui/pkg/client"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.DevMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "ui").Str("version", version).Logger()
	}

	logger := log.With().Str("component", "main").Logger()
	logger.Info().Str("version", version).Str("commit", commit).Str("build_date", buildDate).Msg("starting chamicore-ui")
	if cfg.DevMode {
		logger.Warn().Msg("DEV MODE ENABLED - CORS is open to any origin; do not use in production")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens, err := auth.NewProvider(auth.Options{
		TokenFile:           cfg.TokenFile,
		AllowCLIConfigToken: cfg.AllowCLIConfigToken,
		CLIConfigPath:       cfg.CLIConfigPath,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve API token")
	}
	logger.Info().Str("token_source", string(tokens.Source())).Msg("resolved API token")

	apiClient, err := client.New(client.Config{
		BaseURL:     cfg.APIURL,
		TokenSource: tokens,
		Timeout:     cfg.APITimeout,
		Tracing:     cfg.TracesEnabled,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create API client")
	}

	var st *state.Store
	promMetrics := metrics.New(func() int {
		if st == nil {
			return 0
		}
		return st.ObserverCount()
	})

	st, err = state.New(apiClient,
		state.WithRecorder(promMetrics),
		state.WithRecorder(audit.NewLogger(log.Logger)),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create state store")
	}

	broker := events.NewBroker(0)
	defer st.Subscribe(broker)()

	if cfg.NATSURL != "" {
		publisher, pubErr := events.NewPublisher(events.PublisherConfig{
			URL:           cfg.NATSURL,
			SubjectPrefix: cfg.NATSSubjectPrefix,
		}, log.Logger)
		if pubErr != nil {
			logger.Fatal().Err(pubErr).Msg("failed to connect to NATS")
		}
		defer publisher.Close()
		defer st.Subscribe(publisher)()
		logger.Info().Str("subject_prefix", cfg.NATSSubjectPrefix).Msg("publishing change events to NATS")
	}

	refresher := syncer.New(st, syncer.Config{
		Interval:         cfg.RefreshInterval,
		RefreshOnStartup: cfg.RefreshOnStartup,
	}, log.With().Str("component", "syncer").Logger())
	refresherDone := make(chan struct{})
	go func() {
		defer close(refresherDone)
		refresher.Run(ctx)
	}()

	srv := server.New(st, cfg, version, commit, buildDate, log.Logger,
		server.WithRefresher(refresher),
		server.WithEvents(broker),
		server.WithMetricsHandler(promMetrics.Handler()),
	)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		// Event streams end when ctx is canceled at shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Str("api_url", cfg.APIURL).Msg("HTTP server listening")
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case serveErr := <-errCh:
		logger.Error().Err(serveErr).Msg("HTTP server error")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error().Err(shutdownErr).Msg("HTTP server shutdown error")
	}

	// A cycle already in flight finishes its fetches before Run returns.
	select {
	case <-refresherDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("refresh cycle still running at shutdown deadline")
	}
	logger.Info().Msg("server stopped gracefully")
}
