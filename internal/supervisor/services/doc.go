// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

/*
Package services adapts Vigia components to suture's Serve pattern.

Each wrapper translates one lifecycle shape into

	Serve(ctx context.Context) error

and names itself via fmt.Stringer for supervision logs:

  - HTTPServerService: ListenAndServe/Shutdown, with a bounded drain on
    cancellation
  - PipelineService: the pipeline manager's Start/Stop pair
  - BusRouterService: the event bus router's blocking Run

Return values drive restart decisions: a non-nil error that is not the
context's own error means the component crashed and suture restarts it
after backoff; ctx.Err() after cancellation is a clean shutdown.

The websocket hub needs no wrapper; it implements suture.Service itself.
*/
package services
