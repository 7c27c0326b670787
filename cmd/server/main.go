// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

// Package main is the entry point for the Botwatch server.
//
// Botwatch ingests crowd-sourced bot sightings, hiscore leaderboard
// snapshots, and ML classifier predictions, folds them into durable
// per-player aggregate states, and serves verdicts over a REST API and a
// websocket feed.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered loading (defaults, YAML, env)
//  2. Evidence store: BadgerDB with per-player evidence logs and CAS'd
//     aggregate states
//  3. Event pipeline: embedded NATS JetStream (or external), Watermill
//     router with the evidence aggregation consumer, verdict fanout
//  4. Ingestion: sighting normalizer and evidence recorder
//  5. Hiscore reconciler and optional snapshot poller
//  6. Prediction loop: batched calls to the external classifier
//  7. WebSocket hub for real-time verdict broadcast
//  8. HTTP server: REST API with Prometheus metrics
//
// Everything long-running sits under a suture supervision tree (data,
// messaging, and API layers) and restarts independently on failure.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables (BOTWATCH_ prefix), a config file
// (config.yaml, or CONFIG_PATH), and built-in defaults.
//
// # Example Usage
//
// Single node with embedded JetStream:
//
//	export BOTWATCH_STORE_PATH=/data/botwatch/evidence
//	export BOTWATCH_NATS_STORE_DIR=/data/botwatch/jetstream
//	./botwatch
//
// Against an external NATS cluster with the classifier enabled:
//
//	export BOTWATCH_NATS_EMBEDDED_SERVER=false
//	export BOTWATCH_NATS_URL=nats://nats:4222
//	export BOTWATCH_PREDICTION_ENABLED=true
//	export BOTWATCH_PREDICTION_URL=http://classifier:8500/predict
//	./botwatch
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the HTTP
// server drains in-flight requests, the router finishes in-flight
// messages, and the store and event pipeline close last.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/botwatch/internal/api"
	"github.com/tomtom215/botwatch/internal/config"
	"github.com/tomtom215/botwatch/internal/hiscore"
	"github.com/tomtom215/botwatch/internal/ingest"
	"github.com/tomtom215/botwatch/internal/logging"
	"github.com/tomtom215/botwatch/internal/prediction"
	"github.com/tomtom215/botwatch/internal/store"
	"github.com/tomtom215/botwatch/internal/supervisor"
	"github.com/tomtom215/botwatch/internal/supervisor/services"
	ws "github.com/tomtom215/botwatch/internal/websocket"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Bool("embedded_nats", cfg.NATS.EmbeddedServer).
		Bool("hiscore", cfg.Hiscore.Enabled).
		Bool("prediction", cfg.Prediction.Enabled).
		Msg("Starting Botwatch")

	st, err := store.Open(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open evidence store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing evidence store")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventsComponents, err := InitEvents(cfg, st)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize event pipeline")
	}
	defer eventsComponents.Shutdown(context.Background())

	normalizer := ingest.NewNormalizer(
		cfg.Ingest.ClockSkewTolerance,
		cfg.Ingest.DefaultReporterTrust,
		ingest.WithReporterTrust(cfg.Ingest.ReporterTrust),
	)
	recorder := ingest.NewRecorder(st, eventsComponents.Publisher())

	reconciler := hiscore.NewReconciler(st, recorder, cfg.Hiscore, cfg.Scoring.AnomalyWeight)

	hub := ws.NewHub()
	verdictFanout := ws.NewVerdictSubscriber(eventsComponents.VerdictSource(), hub)

	handler := api.NewHandler(normalizer, recorder, reconciler, st, hub, cfg.API)
	httpHandler := api.NewRouter(handler, cfg.Server, cfg.Ingest)
	server := api.NewServer(httpHandler, cfg.Server)

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// Data layer: badger value-log GC.
	tree.AddDataService(services.NewFunc("store-gc", st.RunGC))

	// Messaging layer: event router, websocket fanout, and the optional
	// hiscore and prediction feeds.
	tree.AddMessagingService(services.NewFunc("event-router", eventsComponents.Router().Run))
	tree.AddMessagingService(services.New("websocket-hub", hub))
	tree.AddMessagingService(services.New("verdict-fanout", verdictFanout))

	if cfg.Hiscore.Enabled {
		poller := hiscore.NewPoller(reconciler, cfg.Hiscore)
		tree.AddMessagingService(services.New("hiscore-poller", poller))
		logging.Info().
			Str("source", cfg.Hiscore.SourceURL).
			Dur("interval", cfg.Hiscore.PollInterval).
			Msg("Hiscore poller enabled")
	}

	if cfg.Prediction.Enabled {
		client := prediction.NewClient(cfg.Prediction)
		loop := prediction.NewLoop(client, st, recorder, cfg.Prediction, cfg.Scoring.ModelTrust)
		tree.AddMessagingService(services.New("prediction-loop", loop))
		logging.Info().
			Str("url", cfg.Prediction.URL).
			Int("feature_version", cfg.Prediction.FeatureVersion).
			Msg("Prediction loop enabled")
	}

	// API layer.
	tree.AddAPIService(services.New("http-server", server))
	logging.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Botwatch stopped gracefully")
}
