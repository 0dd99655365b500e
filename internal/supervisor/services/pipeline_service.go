// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package services

import (
	"context"
	"fmt"
)

// StartStopper is the pipeline manager's lifecycle: Start spawns the cron
// loop and returns, Stop drains in-flight stage runs and blocks until they
// finish.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

// PipelineService runs the pipeline manager under supervision.
type PipelineService struct {
	manager StartStopper
	name    string
}

// NewPipelineService wraps a pipeline manager.
func NewPipelineService(manager StartStopper) *PipelineService {
	return &PipelineService{
		manager: manager,
		name:    "pipeline-manager",
	}
}

// Serve implements suture.Service: Start, block on the context, Stop.
// A Start failure returns immediately so suture restarts with backoff.
func (s *PipelineService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("pipeline manager start: %w", err)
	}

	<-ctx.Done()

	// Stop waits for in-flight stage runs before returning.
	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("pipeline manager stop: %w", err)
	}
	return ctx.Err()
}

// String identifies the service in supervision logs.
func (s *PipelineService) String() string {
	return s.name
}
