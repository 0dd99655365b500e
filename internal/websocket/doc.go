// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

/*
Package websocket pushes live catalogue and pipeline activity to connected
clients.

The package implements a hub-and-spoke pattern over gorilla/websocket: one
Hub owns the client set and fans broadcasts out to every connection, each
connection runs a read pump (pings, liveness) and a write pump (broadcasts,
keepalives) on its own goroutines.

	┌──────────┐
	│   Hub    │ ← broadcasts to all clients
	└────┬─────┘
	     │
	┌────┴─────┬─────────┬─────────┐
	│ Client1  │ Client2 │ Client3 │ ...
	└──────────┴─────────┴─────────┘

Messages are typed JSON envelopes:

  - incident: a catalogue mutation (created/linked/merged/enriched) with
    enough of the incident snapshot to render a feed headline
  - stage_run: a pipeline stage finished a pass (processed/succeeded/failed)
  - ping/pong: application-level liveness, in addition to protocol pings

The Hub feeds from the in-process event bus: HandleCatalogueMessage and
HandleStageMessage are watermill handlers registered on catalogue.changed
and pipeline.stage.completed, so anything the pipeline publishes reaches
every open socket without the pipeline knowing the hub exists.

The Hub is also the upgrade endpoint: it implements http.Handler, checking
the Origin header against the configured allow list before upgrading. A
missing Origin header is rejected; browsers always send one.

Lifecycle is supervision-friendly: Serve(ctx) blocks until the context is
canceled, then closes every client and returns ctx.Err(), so the hub can sit
directly in a suture tree and be restarted without leaking connections.

Slow consumers are disconnected rather than buffered without bound: a client
whose send queue is full when a broadcast arrives is dropped, and the
websocket_errors_total{error_type="slow_client"} counter records it.
*/
package websocket
