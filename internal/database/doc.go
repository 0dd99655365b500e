// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

// Package database is the DuckDB persistence layer.
//
// It owns the four tables of the ingestion pipeline:
//
//   - sources: one row per unique feed entry, keyed by the feed-assigned ID.
//     The status column is the pipeline state machine; workers move rows
//     through it with the atomic claim pattern (ClaimSources).
//   - raw_events: one structured extraction per source (1:1). Denormalized
//     date/location/people columns support the deduplication blocking
//     queries; the full payload lives in extraction_data as JSON text.
//   - unique_events: one canonical row per real-world incident. Enrichment
//     overwrites these rows wholesale; the post-pass merge is the only
//     operation that ever deletes one.
//   - city_stats: per-locality feed counters driving publisher-domain
//     sharding.
//
// All IDs come from DuckDB sequences. All timestamps are stored UTC.
// Sources are never deleted.
package database
