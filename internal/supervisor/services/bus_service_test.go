// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockRouter blocks in Run until the context ends, like a watermill router.
type mockRouter struct {
	runErr  error // returned immediately when set, before blocking
	stopErr error // returned after the context ends
}

func (m *mockRouter) Run(ctx context.Context) error {
	if m.runErr != nil {
		return m.runErr
	}
	<-ctx.Done()
	return m.stopErr
}

func TestBusRouterServiceGracefulShutdown(t *testing.T) {
	svc := NewBusRouterService(&mockRouter{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()

	select {
	case err := <-done:
		// A clean watermill shutdown returns nil; the wrapper surfaces the
		// context error so suture records an orderly exit.
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestBusRouterServiceRunFailure(t *testing.T) {
	boom := errors.New("handler registration clash")
	svc := NewBusRouterService(&mockRouter{runErr: boom})

	err := svc.Serve(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Serve() error = %v, want wrapped run failure", err)
	}
}

func TestBusRouterServiceCloseFailure(t *testing.T) {
	boom := errors.New("close timeout exceeded")
	svc := NewBusRouterService(&mockRouter{stopErr: boom})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Errorf("Serve() error = %v, want wrapped close failure", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestBusRouterServiceString(t *testing.T) {
	if got := NewBusRouterService(&mockRouter{}).String(); got != "bus-router" {
		t.Errorf("String() = %q, want bus-router", got)
	}
}
