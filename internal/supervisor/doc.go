// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

/*
Package supervisor builds the suture v4 supervision tree that keeps Vigia's
long-running parts alive.

The tree has three child layers under one root:

	vigia
	├── pipeline-layer   pipeline manager (cron ticks, stage runs)
	├── messaging-layer  event bus router, websocket hub
	└── api-layer        HTTP server

The layering is failure isolation: a crash-looping pipeline stage backs off
inside pipeline-layer without touching the API's ability to serve the
catalogue, and vice versa. Each layer uses the same failure threshold,
decay, and backoff, configured by TreeConfig.

Supervision events (service started, failed, backoff) are logged through
sutureslog into the process-wide zerolog stream via logging.NewSlogLogger.

Components that already block on a context (the websocket hub) implement
suture.Service themselves and are added directly. Everything else is
adapted by the wrappers in the services subpackage.
*/
package supervisor
