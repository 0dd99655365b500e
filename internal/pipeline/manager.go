// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

// Package pipeline orchestrates the stages that turn feed entries into a
// deduplicated incident catalogue: fetch, classify, download, extract,
// dedupe. Stages communicate only through row states in the store, so any
// stage can run at any moment without coordination; the manager layers a
// cron tick, manual triggers, and bus-driven chaining on top of that.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/vigia-news/vigia/internal/config"
	"github.com/vigia-news/vigia/internal/eventbus"
	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/metrics"
	"github.com/vigia-news/vigia/internal/models"
	"github.com/vigia-news/vigia/internal/scheduler"
)

// Stage names accepted by Trigger and reported on results and metrics.
const (
	StageFetch    = "fetch"
	StageClassify = "classify"
	StageDownload = "download"
	StageExtract  = "extract"
	StageDedupe   = "dedupe"
)

// Stages lists every stage in dependency order.
var Stages = []string{StageFetch, StageClassify, StageDownload, StageExtract, StageDedupe}

// nextStage maps each stage to the consumer of its output.
var nextStage = map[string]string{
	StageFetch:    StageClassify,
	StageClassify: StageDownload,
	StageDownload: StageExtract,
	StageExtract:  StageDedupe,
}

// releaseTimeout bounds the detached status writes that return claims after
// a cancelled or failed work item.
const releaseTimeout = 10 * time.Second

// stageCounts tallies one stage run. processed counts the work items taken
// on; succeeded and failed partition their outcomes. An item released for a
// later retry counts as failed: this run did not finish it.
type stageCounts struct {
	processed int
	succeeded int
	failed    int
}

func (c stageCounts) plus(o stageCounts) stageCounts {
	return stageCounts{
		processed: c.processed + o.processed,
		succeeded: c.succeeded + o.succeeded,
		failed:    c.failed + o.failed,
	}
}

// Manager owns stage execution. Individual stage runs are safe to overlap,
// the claim pattern hands disjoint rows to concurrent runs; RunAll holds
// runMu so scheduled sweeps cannot pile up on a slow cycle.
type Manager struct {
	store    Store
	model    LLM
	articles ArticleFetcher
	resolver URLResolver
	geo      Geocoder
	bus      Bus
	feed     FeedIngester
	cfg      *config.Config

	schedule *scheduler.Schedule

	lastRun  time.Time
	running  bool
	mu       sync.RWMutex
	runMu    sync.Mutex // serializes full sweeps
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewManager wires the stages. Pass geocoder.Noop when geocoding is off; the
// remaining collaborators are required.
func NewManager(store Store, model LLM, articles ArticleFetcher, resolver URLResolver, geo Geocoder, bus Bus, feed FeedIngester, cfg *config.Config) (*Manager, error) {
	schedule, err := scheduler.Parse(cfg.Pipeline.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parsing pipeline schedule %q: %w", cfg.Pipeline.Schedule, err)
	}

	return &Manager{
		store:    store,
		model:    model,
		articles: articles,
		resolver: resolver,
		geo:      geo,
		bus:      bus,
		feed:     feed,
		cfg:      cfg,
		schedule: schedule,
		stopChan: make(chan struct{}),
	}, nil
}

// Start launches the schedule loop. With pipeline.enabled=false the manager
// stays idle and serves manual triggers only.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("pipeline manager is already running")
	}
	m.running = true
	m.mu.Unlock()

	if !m.cfg.Pipeline.Enabled {
		logging.Info().Msg("Pipeline schedule disabled; stages run on manual triggers only")
		return nil
	}

	m.wg.Add(1)
	go m.scheduleLoop(ctx)

	if m.cfg.Pipeline.RunOnStartup {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.RunAll(ctx)
		}()
	}

	logging.Info().
		Str("schedule", m.cfg.Pipeline.Schedule).
		Bool("run_on_startup", m.cfg.Pipeline.RunOnStartup).
		Bool("janitor", m.cfg.Pipeline.JanitorEnabled).
		Msg("Pipeline manager started")
	return nil
}

// Stop halts the schedule and waits for in-flight runs to drain. Claimed
// work items finish or release themselves; nothing is cut off mid-write.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("pipeline manager is not running")
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopChan)
	m.wg.Wait()
	logging.Info().Msg("Pipeline manager stopped")
	return nil
}

// LastRunTime reports when the last full sweep finished. Zero until the
// first sweep completes.
func (m *Manager) LastRunTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRun
}

// scheduleLoop fires a full sweep on every cron tick.
func (m *Manager) scheduleLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		next := m.schedule.Next(time.Now(), time.Local)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-timer.C:
			m.RunAll(ctx)
		case <-m.stopChan:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// RunAll executes every stage once, in dependency order, after an optional
// janitor sweep. A failing stage does not stop later ones: each stage reads
// its own input states, so downstream stages still drain whatever earlier
// runs produced.
func (m *Manager) RunAll(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.runJanitor(ctx)

	for _, stage := range Stages {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.Trigger(ctx, stage); err != nil {
			logging.Error().Err(err).Str("stage", stage).Msg("Stage run failed")
		}
	}

	m.mu.Lock()
	m.lastRun = time.Now().UTC()
	m.mu.Unlock()
}

// Trigger runs one stage to completion and reports what it did. Unknown
// stage names are rejected. Triggers do not wait for a running sweep; the
// claim pattern keeps overlapping runs off each other's rows.
func (m *Manager) Trigger(ctx context.Context, stage string) (models.StageRunResult, error) {
	run, ok := m.stageFunc(stage)
	if !ok {
		return models.StageRunResult{}, fmt.Errorf("unknown pipeline stage %q", stage)
	}

	if m.cfg.Pipeline.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Pipeline.StageTimeout)
		defer cancel()
	}

	started := time.Now()
	counts, err := run(ctx)
	duration := time.Since(started)

	result := models.StageRunResult{
		Stage:      stage,
		Processed:  counts.processed,
		Succeeded:  counts.succeeded,
		Failed:     counts.failed,
		StartedAt:  started.UTC(),
		DurationMS: duration.Milliseconds(),
	}

	metrics.RecordStageRun(stage, duration, counts.succeeded, counts.failed, err)
	if pubErr := m.bus.PublishStageResult(result); pubErr != nil {
		logging.Warn().Err(pubErr).Str("stage", stage).Msg("Stage result publish failed")
	}

	if err != nil {
		return result, fmt.Errorf("%s stage: %w", stage, err)
	}

	logging.Info().
		Str("stage", stage).
		Int("processed", counts.processed).
		Int("succeeded", counts.succeeded).
		Int("failed", counts.failed).
		Dur("duration", duration).
		Msg("Stage run finished")
	return result, nil
}

// stageFunc resolves a stage name to its implementation.
func (m *Manager) stageFunc(stage string) (func(context.Context) (stageCounts, error), bool) {
	switch stage {
	case StageFetch:
		return m.runFetch, true
	case StageClassify:
		return m.runClassification, true
	case StageDownload:
		return m.runDownload, true
	case StageExtract:
		return m.runExtraction, true
	case StageDedupe:
		return m.runDedupe, true
	}
	return nil, false
}

// runFetch delegates to the feed ingester. Polls are the work items: a
// failed poll is a failed item, every other poll succeeded.
func (m *Manager) runFetch(ctx context.Context) (stageCounts, error) {
	res, err := m.feed.Run(ctx)
	counts := stageCounts{
		processed: res.Polls,
		succeeded: res.Polls - res.Failed,
		failed:    res.Failed,
	}
	if err != nil {
		return counts, fmt.Errorf("feed ingestion: %w", err)
	}
	return counts, nil
}

// HandleStageCompleted chains stages between cron ticks: a stage run that
// produced output triggers its consumer immediately. The chain stops on
// empty runs and after dedupe, which has no consumer. Trigger failures are
// not returned; re-running a broken stage from the bus would just fail
// again, the next cron tick retries anyway.
func (m *Manager) HandleStageCompleted(msg *message.Message) error {
	event, err := eventbus.DecodeStageEvent(msg.Payload)
	if err != nil {
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Undecodable stage event dropped")
		return nil
	}
	if event.Succeeded == 0 {
		return nil
	}
	next, ok := nextStage[event.Stage]
	if !ok {
		return nil
	}

	logging.Debug().
		Str("completed", event.Stage).
		Str("next", next).
		Int("succeeded", event.Succeeded).
		Msg("Chaining pipeline stage")
	if _, err := m.Trigger(msg.Context(), next); err != nil {
		logging.Error().Err(err).Str("stage", next).Msg("Chained stage run failed")
	}
	return nil
}

// releaseClaim returns a claimed source to its input state on a detached
// context: the cancellation that aborted the work item must not also strand
// the row in its claim state until a janitor sweep.
func (m *Manager) releaseClaim(id int64, claim models.SourceStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := m.store.ReleaseSource(ctx, id, claim); err != nil {
		logging.Error().Err(err).Int64("source_id", id).Str("claim", string(claim)).Msg("Claim release failed")
	}
}
