// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

/*
Package metrics provides Prometheus metrics collection and export.

The package instruments every moving part of the pipeline: feed polling and
publisher-domain sharding, redirect resolution, the classify/download/extract
stages, LLM calls per role (with schema-retry accounting), deduplication
decisions, geocoding, DuckDB queries, the HTTP API, and WebSocket fanout.

All collectors are registered on the default registry via promauto at package
load; the API exposes them on GET /metrics through promhttp.
*/
package metrics
