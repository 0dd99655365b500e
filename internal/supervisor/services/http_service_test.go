// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

// mockServer mimics *http.Server: ListenAndServe blocks until Shutdown
// releases it with http.ErrServerClosed, or until a test injects an error.
type mockServer struct {
	listenErr   chan error
	shutdownErr error
	shutdowns   atomic.Int32
}

func newMockServer() *mockServer {
	return &mockServer{listenErr: make(chan error, 1)}
}

func (m *mockServer) ListenAndServe() error {
	return <-m.listenErr
}

func (m *mockServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	select {
	case m.listenErr <- http.ErrServerClosed:
	default:
	}
	return m.shutdownErr
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	srv := newMockServer()
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	if got := srv.shutdowns.Load(); got != 1 {
		t.Errorf("Shutdown called %d times, want 1", got)
	}
}

func TestHTTPServerServiceListenFailure(t *testing.T) {
	boom := errors.New("listen tcp :8442: address already in use")
	srv := newMockServer()
	srv.listenErr <- boom

	svc := NewHTTPServerService(srv, time.Second)

	err := svc.Serve(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Serve() error = %v, want wrapped listen failure", err)
	}
	if srv.shutdowns.Load() != 0 {
		t.Error("Shutdown called after a listen failure")
	}
}

func TestHTTPServerServiceShutdownFailure(t *testing.T) {
	boom := errors.New("connections still draining")
	srv := newMockServer()
	srv.shutdownErr = boom

	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Errorf("Serve() error = %v, want wrapped shutdown failure", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestNewHTTPServerServiceDefaultsTimeout(t *testing.T) {
	svc := NewHTTPServerService(newMockServer(), 0)
	if svc.shutdownTimeout != 10*time.Second {
		t.Errorf("shutdownTimeout = %v, want default 10s", svc.shutdownTimeout)
	}
	if svc.String() != "http-server" {
		t.Errorf("String() = %q, want http-server", svc.String())
	}
}
