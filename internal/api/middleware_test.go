// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequestIDGenerated(t *testing.T) {
	router := newTestRouter(&mockStore{}, &mockPipeline{}, nil, testAPIConfig())

	rr := doRequest(t, router, http.MethodGet, "/api/v1/health")
	if got := rr.Header().Get("X-Request-ID"); got == "" {
		t.Error("X-Request-ID header missing from response")
	}
}

func TestRequestIDAdoptedFromProxy(t *testing.T) {
	router := newTestRouter(&mockStore{}, &mockPipeline{}, nil, testAPIConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "edge-7f3a")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "edge-7f3a" {
		t.Errorf("X-Request-ID = %q, want the proxy-assigned edge-7f3a", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	router := newTestRouter(&mockStore{}, &mockPipeline{}, nil, testAPIConfig())

	rr := doRequest(t, router, http.MethodGet, "/api/v1/events")

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for header, value := range want {
		if got := rr.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
	if got := rr.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS set on a plaintext request: %q", got)
	}
}

func TestHSTSBehindTLSTerminator(t *testing.T) {
	router := newTestRouter(&mockStore{}, &mockPipeline{}, nil, testAPIConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if got := rr.Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("HSTS missing on a forwarded-https request")
	}
}

func TestCacheValidatorsOnReads(t *testing.T) {
	router := newTestRouter(&mockStore{}, &mockPipeline{}, nil, testAPIConfig())

	rr := doRequest(t, router, http.MethodGet, "/api/v1/events")
	if rr.Header().Get("ETag") == "" {
		t.Error("ETag missing from read response")
	}
	if got := rr.Header().Get("Cache-Control"); got != "public, max-age=60" {
		t.Errorf("Cache-Control = %q, want public, max-age=60", got)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	cfg := testAPIConfig()
	cfg.API.RateLimitReqs = 2
	cfg.API.RateLimitWindow = time.Minute
	cfg.API.RateLimitDisabled = false
	router := newTestRouter(&mockStore{}, &mockPipeline{}, nil, cfg)

	// httptest requests share a RemoteAddr, so they land in one bucket.
	for i := 0; i < 2; i++ {
		if rr := doRequest(t, router, http.MethodGet, "/api/v1/events"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rr.Code)
		}
	}

	rr := doRequest(t, router, http.MethodGet, "/api/v1/events")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env.Error == nil || env.Error.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("error = %+v, want RATE_LIMIT_EXCEEDED", env.Error)
	}
}

func TestRateLimitScopedPerRouteGroup(t *testing.T) {
	cfg := testAPIConfig()
	cfg.API.RateLimitReqs = 1
	cfg.API.RateLimitWindow = time.Minute
	cfg.API.RateLimitDisabled = false
	router := newTestRouter(&mockStore{}, &mockPipeline{}, nil, cfg)

	if rr := doRequest(t, router, http.MethodGet, "/api/v1/events"); rr.Code != http.StatusOK {
		t.Fatalf("priming request: status = %d, want 200", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodGet, "/api/v1/events"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second read: status = %d, want 429", rr.Code)
	}

	// Health probes budget separately from the read API.
	if rr := doRequest(t, router, http.MethodGet, "/api/v1/health/live"); rr.Code != http.StatusOK {
		t.Errorf("health probe: status = %d, want 200 despite exhausted read budget", rr.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	cfg := testAPIConfig()
	cfg.API.RateLimitReqs = 1
	cfg.API.RateLimitDisabled = true
	router := newTestRouter(&mockStore{}, &mockPipeline{}, nil, cfg)

	for i := 0; i < 10; i++ {
		if rr := doRequest(t, router, http.MethodGet, "/api/v1/events"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200 with limiter disabled", i+1, rr.Code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(&mockStore{}, &mockPipeline{}, nil, testAPIConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/events", nil)
	req.Header.Set("Origin", "https://mapa.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	cfg := testAPIConfig()
	cfg.API.CORSOrigins = []string{"https://mapa.example.org"}
	router := newTestRouter(&mockStore{}, &mockPipeline{}, nil, cfg)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/events", nil)
		req.Header.Set("Origin", "https://mapa.example.org")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://mapa.example.org" {
			t.Errorf("Access-Control-Allow-Origin = %q, want the configured origin", got)
		}
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/events", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want unset for an unknown origin", got)
		}
	})
}

func TestMetricsEndpointExposed(t *testing.T) {
	router := newTestRouter(&mockStore{}, &mockPipeline{}, nil, testAPIConfig())

	rr := doRequest(t, router, http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Error("metrics body empty, want Prometheus exposition text")
	}
}
