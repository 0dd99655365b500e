// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

// Package main is the entry point for the Vigia server.
//
// Vigia monitors Brazilian news coverage for violent-death reporting. It
// polls a Google-News-style RSS aggregator, triages headlines with an LLM,
// downloads and extracts the flagged articles, and deduplicates the
// extracted reports into a canonical incident catalogue served over a REST
// API, CSV/JSON exports, and a WebSocket live feed.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 with environment variables and config files
//  2. Logging: zerolog with JSON/console output modes
//  3. Database: DuckDB with the incident schema and prepared-statement cache
//  4. LLM client: OpenAI-compatible endpoint behind a circuit breaker
//  5. Ingestion: feed fetcher, redirect resolver, article extractor, geocoder
//  6. Event bus: watermill gochannel pub/sub with the handler router
//  7. Pipeline manager: cron-scheduled stage execution with manual triggers
//  8. WebSocket hub: live catalogue and stage-progress feed
//  9. Supervisor tree: Suture v4 process supervision
//  10. HTTP server: Chi router with the read API and exports
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (see doc.go for the full reference)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections and drains in-flight requests
//   - Finishes or releases claimed pipeline work (nothing is cut off
//     mid-write)
//   - Waits for in-flight bus handlers
//   - Checkpoints the DuckDB WAL and closes the database
//
// # Example Usage
//
// Read-only serving over an existing catalogue (no LLM key needed):
//
//	export PIPELINE_ENABLED=false
//	export DUCKDB_PATH=./data/vigia.duckdb
//	./vigia
//
// Full pipeline against the default Ceará localities:
//
//	export LLM_API_KEY=sk-...
//	export PIPELINE_SCHEDULE="0 */2 * * *"
//	export PIPELINE_RUN_ON_STARTUP=true
//	./vigia
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vigia-news/vigia/internal/api"
	"github.com/vigia-news/vigia/internal/config"
	"github.com/vigia-news/vigia/internal/content"
	"github.com/vigia-news/vigia/internal/database"
	"github.com/vigia-news/vigia/internal/eventbus"
	"github.com/vigia-news/vigia/internal/fetcher"
	"github.com/vigia-news/vigia/internal/geocoder"
	"github.com/vigia-news/vigia/internal/llm"
	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/pipeline"
	"github.com/vigia-news/vigia/internal/resolver"
	"github.com/vigia-news/vigia/internal/supervisor"
	"github.com/vigia-news/vigia/internal/supervisor/services"
	ws "github.com/vigia-news/vigia/internal/websocket"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize zerolog with configuration
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Vigia with supervisor tree")

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Int("queries", len(cfg.Feed.Queries)).
		Int("cities", len(cfg.Feed.Cities)).
		Bool("pipeline_enabled", cfg.Pipeline.Enabled).
		Str("schedule", cfg.Pipeline.Schedule).
		Msg("Configuration loaded")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	// LLM client with circuit breaker for fault tolerance. One client serves
	// all five pipeline roles; validation already required an API key when
	// the pipeline is enabled.
	model := llm.New(&cfg.LLM)
	logging.Info().
		Str("classification_model", cfg.LLM.ClassificationModel).
		Str("extraction_model", cfg.LLM.ExtractionModel).
		Str("match_model", cfg.LLM.MatchModel).
		Msg("LLM client initialized")

	// Ingestion collaborators. The resolver serves both the fetcher (inline
	// resolution at insert time) and the downloader (retry for rows the
	// ingestion pass could not decode).
	res := resolver.New(&cfg.Resolver)
	articles := content.New(&cfg.Content)
	feed := fetcher.New(&cfg.Feed, db, res)

	var geo pipeline.Geocoder = geocoder.Noop{}
	if cfg.Geocoder.Active() {
		geo = geocoder.New(&cfg.Geocoder)
		logging.Info().
			Str("region", cfg.Geocoder.Region).
			Str("language", cfg.Geocoder.Language).
			Msg("Geocoder enabled")
	} else if cfg.Geocoder.Enabled {
		logging.Warn().Msg("Geocoder enabled without API key, incidents will not be geocoded")
	}

	// In-process event bus. Stage completions chain the next stage and feed
	// the WebSocket hub; catalogue changes feed the hub only.
	bus := eventbus.New()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	busRouter, err := eventbus.NewRouter(bus, eventbus.DefaultRouterConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event bus router")
	}

	mgr, err := pipeline.NewManager(db, model, articles, res, geo, bus, feed, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create pipeline manager")
	}

	// WebSocket hub for the live feed; shares the API CORS origin list
	wsHub := ws.NewHub(cfg.API.CORSOrigins)

	// Handlers must be registered before the router runs
	busRouter.AddConsumerHandler("pipeline-stage-chain", eventbus.TopicStageCompleted, mgr.HandleStageCompleted)
	busRouter.AddConsumerHandler("ws-catalogue-feed", eventbus.TopicCatalogue, wsHub.HandleCatalogueMessage)
	busRouter.AddConsumerHandler("ws-stage-feed", eventbus.TopicStageCompleted, wsHub.HandleStageMessage)

	handler := api.NewHandler(db, mgr, wsHub, cfg)
	router := api.NewRouter(handler, cfg.API)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create structured logger for supervisor using our slog adapter
	// This bridges zerolog to slog for sutureslog compatibility
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	// === ADD SERVICES TO SUPERVISOR TREE ===

	// Pipeline layer. With the schedule disabled the manager stays idle and
	// still serves manual triggers from the API.
	tree.AddPipelineService(services.NewPipelineService(mgr))

	// Messaging layer services. The hub implements suture.Service itself.
	tree.AddMessagingService(services.NewBusRouterService(busRouter))
	tree.AddMessagingService(wsHub)
	logging.Info().Msg("Bus router and WebSocket hub added to supervisor tree")

	// API layer services
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// === START SUPERVISOR TREE ===

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// The gochannel transport drops messages published before a subscriber
	// consumes, and a run-on-startup sweep races that window.
	select {
	case <-busRouter.Running():
		logging.Info().Msg("Event bus router consuming")
	case <-time.After(10 * time.Second):
		logging.Warn().Msg("Event bus router not consuming after 10s, early stage events may be dropped")
	case <-ctx.Done():
	}

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
