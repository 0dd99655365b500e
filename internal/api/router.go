// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigia-news/vigia/internal/config"
)

// Router assembles the HTTP route tree.
type Router struct {
	handler *Handler
	mw      *Middleware
}

// NewRouter creates a router over the given handler.
func NewRouter(handler *Handler, cfg config.APIConfig) *Router {
	return &Router{
		handler: handler,
		mw:      NewMiddleware(cfg),
	}
}

// Setup configures all routes and returns the root handler.
//
// Route groups and their rate-limit tiers:
//
//	/api/v1/health/*    permissive, for monitoring probes
//	/api/v1/*           configured default budget
//	/api/v1/pipeline/*  strict, manual triggers are expensive
//	/api/v1/export/*    strict, full-catalogue streams
//	/metrics            Prometheus scrape, unlimited
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global stack. CORS stays global so OPTIONS preflights resolve
	// before any group-level limiter.
	r.Use(RequestID())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(rt.mw.CORS())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(rt.mw.RateLimitHealth())
		r.Use(SecurityHeaders())
		r.Get("/", rt.handler.Health)
		r.Get("/live", rt.handler.HealthLive)
		r.Get("/ready", rt.handler.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.mw.RateLimit())
		r.Use(SecurityHeaders())
		r.Use(PrometheusMetrics())

		// The upgrade hijacks the connection and must stay outside the
		// compression wrapper.
		r.Get("/ws", rt.handler.WebSocket)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Compress(5))

			r.Get("/events", rt.handler.Events)
			r.Get("/events/{id}", rt.handler.EventByID)
			r.Get("/raw-events", rt.handler.RawEvents)
			r.Get("/sources", rt.handler.Sources)
			r.Get("/stats", rt.handler.Stats)
		})
	})

	r.Route("/api/v1/pipeline", func(r chi.Router) {
		r.Use(rt.mw.RateLimitPipeline())
		r.Use(SecurityHeaders())
		r.Use(PrometheusMetrics())

		r.Post("/run", rt.handler.PipelineRun)
		r.Post("/{stage}/run", rt.handler.PipelineStageRun)
	})

	r.Route("/api/v1/export", func(r chi.Router) {
		r.Use(rt.mw.RateLimitExport())
		r.Use(SecurityHeaders())
		r.Use(PrometheusMetrics())
		// Full-catalogue dumps compress well; text/csv is not in chi's
		// default type list.
		r.Use(chimiddleware.Compress(5, "text/csv", "application/json"))

		r.Get("/events.csv", rt.handler.ExportEventsCSV)
		r.Get("/events.json", rt.handler.ExportEventsJSON)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
