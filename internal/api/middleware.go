// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/vigia-news/vigia/internal/config"
	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/metrics"
)

// Middleware builds the per-group middleware stack from the API config.
type Middleware struct {
	cfg  config.APIConfig
	cors func(http.Handler) http.Handler
}

// NewMiddleware creates the middleware factory for the router.
func NewMiddleware(cfg config.APIConfig) *Middleware {
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         86400,
	})

	return &Middleware{
		cfg:  cfg,
		cors: corsHandler,
	}
}

// CORS returns the go-chi/cors handler. Applied globally so OPTIONS
// preflights are answered before any rate limiter sees them.
func (m *Middleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// rateLimitTier defines one endpoint class's request budget.
type rateLimitTier struct {
	requests int
	window   time.Duration
}

// Endpoint tiers. Health checks poll frequently, exports and pipeline
// triggers are resource intensive, everything else uses the configured
// default budget.
var (
	tierHealth   = rateLimitTier{requests: 1000, window: time.Minute}
	tierExport   = rateLimitTier{requests: 10, window: time.Minute}
	tierPipeline = rateLimitTier{requests: 10, window: time.Minute}
)

// RateLimit returns the default per-IP limiter from the configured budget.
func (m *Middleware) RateLimit() func(http.Handler) http.Handler {
	return m.limit(rateLimitTier{requests: m.cfg.RateLimitReqs, window: m.cfg.RateLimitWindow})
}

// RateLimitHealth returns the permissive limiter for health probes.
func (m *Middleware) RateLimitHealth() func(http.Handler) http.Handler {
	return m.limit(tierHealth)
}

// RateLimitExport returns the strict limiter for catalogue exports.
func (m *Middleware) RateLimitExport() func(http.Handler) http.Handler {
	return m.limit(tierExport)
}

// RateLimitPipeline returns the strict limiter for manual stage triggers.
func (m *Middleware) RateLimitPipeline() func(http.Handler) http.Handler {
	return m.limit(tierPipeline)
}

func (m *Middleware) limit(tier rateLimitTier) func(http.Handler) http.Handler {
	if m.cfg.RateLimitDisabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return httprate.Limit(
		tier.requests,
		tier.window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(rateLimited),
	)
}

// rateLimited answers 429 in the standard error envelope instead of
// httprate's plain-text default.
func rateLimited(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
		"Too many requests, retry later", nil)
}

// RequestID assigns each request a UUID (or adopts the one a proxy set),
// exposes it in the X-Request-ID response header, and stores it in the
// context so log lines and error envelopes can carry it.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			w.Header().Set("X-Request-ID", requestID)

			ctx := logging.ContextWithRequestID(r.Context(), requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SecurityHeaders hardens API responses for browser clients.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			// HSTS only makes sense once the request already arrived over TLS,
			// directly or via a terminating proxy.
			if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// PrometheusMetrics instruments every request with latency, status, and
// in-flight counters. The endpoint label uses the matched chi route
// pattern so path parameters do not explode metric cardinality.
func PrometheusMetrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metrics.TrackActiveRequest(true)
			defer metrics.TrackActiveRequest(false)

			start := time.Now()
			wrapper := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapper, r)

			endpoint := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					endpoint = pattern
				}
			}

			metrics.RecordAPIRequest(
				r.Method,
				endpoint,
				strconv.Itoa(wrapper.statusCode),
				time.Since(start),
			)
		})
	}
}

// statusResponseWriter wraps http.ResponseWriter to capture the status code.
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
