// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package services

import (
	"context"
	"fmt"
)

// BusRouter is the event bus router's blocking run loop. Run returns nil
// after a graceful context-canceled shutdown.
type BusRouter interface {
	Run(ctx context.Context) error
}

// BusRouterService runs the watermill router under supervision. The
// pipeline's stage chaining and the websocket live feed both ride this
// router, so a crash here restarts message delivery without touching the
// HTTP layer.
type BusRouterService struct {
	router BusRouter
	name   string
}

// NewBusRouterService wraps a bus router.
func NewBusRouterService(router BusRouter) *BusRouterService {
	return &BusRouterService{
		router: router,
		name:   "bus-router",
	}
}

// Serve implements suture.Service. Run handles cancellation itself; the
// context error is surfaced afterwards so suture records a clean shutdown
// rather than a spontaneous exit.
func (s *BusRouterService) Serve(ctx context.Context) error {
	if err := s.router.Run(ctx); err != nil {
		return fmt.Errorf("bus router: %w", err)
	}
	return ctx.Err()
}

// String identifies the service in supervision logs.
func (s *BusRouterService) String() string {
	return s.name
}
