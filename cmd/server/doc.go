// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

// Package main is the entry point for the Vigia server.
//
// Vigia polls a Google-News-style RSS aggregator for violent-death reporting
// in configured Brazilian localities, classifies the headlines with an LLM,
// downloads and extracts the flagged articles, and deduplicates the extracted
// reports into a catalogue of canonical incidents. The catalogue is served
// over a paginated REST API, CSV/JSON exports, and a WebSocket live feed.
//
// # Application Architecture
//
// The server implements a layered architecture with Suture v4 process
// supervision:
//
//	RootSupervisor ("vigia")
//	├── PipelineSupervisor ("pipeline-layer")
//	│   └── Pipeline Manager (cron-scheduled stage execution)
//	├── MessagingSupervisor ("messaging-layer")
//	│   ├── Bus Router (stage chaining, live-feed fan-out)
//	│   └── WebSocket Hub (real-time catalogue updates)
//	└── APISupervisor ("api-layer")
//	    └── HTTP Server (read API, exports, pipeline triggers)
//
// Component initialization order:
//
//  1. Configuration: Koanf v2 with environment variables and config files
//  2. Logging: zerolog with JSON/console output modes
//  3. Database: DuckDB with the incident schema and prepared-statement cache
//  4. LLM client: OpenAI-compatible endpoint behind a circuit breaker
//  5. Ingestion: feed fetcher, redirect resolver, article extractor, geocoder
//  6. Event bus: watermill gochannel pub/sub with the handler router
//  7. Pipeline manager: fetch, classify, download, extract, dedupe stages
//  8. WebSocket hub: live catalogue and stage-progress feed
//  9. Supervisor tree: Suture v4 process supervision
//  10. HTTP server: Chi router with grouped rate limits
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority
// wins):
//
//	Priority: Environment variables > Config file (config.yaml) > Defaults
//
// Core environment variables:
//
//	# Server
//	HTTP_PORT=8442               # HTTP server port
//	HTTP_HOST=0.0.0.0
//	LOG_LEVEL=info               # trace, debug, info, warn, error
//	LOG_FORMAT=json              # json or console
//
//	# Database
//	DUCKDB_PATH=/data/vigia.duckdb
//	DUCKDB_MAX_MEMORY=2GB
//
//	# Feed ingestion
//	FEED_QUERIES='"{city}" homicídio,"{city}" assassinado'
//	FEED_CITIES=Fortaleza,Caucaia,Maracanaú
//	FEED_WHEN=7d                 # recency window appended to every query
//	FEED_REQUEST_INTERVAL=2s     # politeness delay between polls
//
//	# LLM (required when the pipeline is enabled)
//	LLM_API_KEY=<key>            # alias: OPENAI_API_KEY
//	LLM_BASE_URL=                # empty = vendor default
//	LLM_CLASSIFICATION_MODEL=gpt-4o-mini
//	LLM_EXTRACTION_MODEL=gpt-4o
//
//	# Pipeline
//	PIPELINE_ENABLED=true
//	PIPELINE_SCHEDULE=17 * * * *
//	PIPELINE_RUN_ON_STARTUP=false
//
//	# Deduplication
//	DEDUP_MATCH_THRESHOLD=0.8
//	DEDUP_CANDIDATE_WINDOW_DAYS=1
//	DEDUP_POST_PASS_WINDOW_DAYS=7
//
//	# Geocoding (optional)
//	GEOCODER_API_KEY=<key>       # alias: GOOGLE_MAPS_API_KEY
//
// See internal/config for the complete reference.
//
// # Read-Only Mode
//
// With PIPELINE_ENABLED=false the manager stays idle and no LLM key is
// required; the server answers reads over whatever catalogue the database
// already holds, and stages still run on manual triggers:
//
//	export PIPELINE_ENABLED=false
//	export DUCKDB_PATH=./data/vigia.duckdb
//	./vigia
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//
//  1. Stops accepting new HTTP connections
//  2. Closes WebSocket clients
//  3. Waits for in-flight requests (10s timeout)
//  4. Finishes or releases claimed pipeline work
//  5. Waits for in-flight bus handlers
//  6. Checkpoints the DuckDB WAL and closes the database
//  7. Reports any services that failed to stop
//
// # Usage Examples
//
// Development (console logs, immediate sweep):
//
//	export LLM_API_KEY=sk-...
//	export LOG_FORMAT=console LOG_LEVEL=debug
//	export PIPELINE_RUN_ON_STARTUP=true
//	go run ./cmd/server
//
// Production:
//
//	export LLM_API_KEY=sk-...
//	export FEED_CITIES=Fortaleza,Caucaia,Maracanaú,Sobral
//	export PIPELINE_SCHEDULE="0 */2 * * *"
//	export CORS_ORIGINS=https://vigia.example.org
//	./vigia
//
// Docker:
//
//	docker run -d \
//	  -e LLM_API_KEY=sk-... \
//	  -e DUCKDB_PATH=/data/vigia.duckdb \
//	  -v vigia-data:/data \
//	  -p 8442:8442 \
//	  ghcr.io/vigia-news/vigia
//
// # API Surface
//
// The read API is versioned under /api/v1:
//
//   - Catalogue: GET /events, /events/{id} with city/state/date/confirmed filters
//   - Ingestion: GET /raw-events, /sources, /stats
//   - Pipeline: POST /pipeline/run, /pipeline/{stage}/run
//   - Export: GET /export/events.csv, /export/events.json
//   - Live feed: GET /ws (WebSocket)
//   - Health: GET /health, /health/live, /health/ready
//   - Metrics: GET /metrics (Prometheus)
//
// # See Also
//
//   - internal/config: Configuration management
//   - internal/pipeline: Stage orchestration
//   - internal/supervisor: Process supervision
//   - internal/api: HTTP handlers and routing
//   - internal/eventbus: In-process pub/sub
package main
