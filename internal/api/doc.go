// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

// Package api serves the read-side HTTP surface over the incident
// catalogue: paginated listings, incident detail, pipeline statistics,
// streaming CSV/JSON export, manual pipeline triggers, health probes,
// and the WebSocket live feed.
//
// Routing uses go-chi/chi with tiered httprate limits per route group
// and go-chi/cors for browser clients. Every JSON endpoint responds
// with the models.APIResponse envelope; handlers never write bare
// payloads. The package owns no state beyond the wired Store and
// Pipeline interfaces, so the whole surface is testable against
// hand-written mocks.
package api
