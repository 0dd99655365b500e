// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vigia-news/vigia/internal/config"
	"github.com/vigia-news/vigia/internal/database"
	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/models"
	"github.com/vigia-news/vigia/internal/pipeline"
)

// validStage reports whether name is a runnable pipeline stage.
func validStage(name string) bool {
	for _, s := range pipeline.Stages {
		if s == name {
			return true
		}
	}
	return false
}

// Store is the read-side slice of the database the handlers serve from.
type Store interface {
	GetUniqueEvents(ctx context.Context, f database.UniqueEventFilter) ([]models.UniqueEvent, int64, error)
	GetUniqueEventByID(ctx context.Context, id int64) (*models.UniqueEvent, error)
	GetRawEventsByUniqueEvent(ctx context.Context, uniqueEventID int64) ([]models.RawEvent, error)
	GetRawEvents(ctx context.Context, f database.RawEventFilter) ([]models.RawEvent, int64, error)
	GetSources(ctx context.Context, f database.SourceFilter) ([]models.Source, int64, error)
	GetPipelineStats(ctx context.Context) (*models.PipelineStats, error)
	ForEachUniqueEvent(ctx context.Context, fn func(*models.UniqueEvent) error) error
	Ping(ctx context.Context) error
}

// Pipeline is the trigger surface of the pipeline manager. Stage runs
// kicked off over HTTP execute asynchronously.
type Pipeline interface {
	Trigger(ctx context.Context, stage string) (models.StageRunResult, error)
	RunAll(ctx context.Context)
	LastRunTime() time.Time
}

// Handler holds the wired dependencies for every endpoint.
type Handler struct {
	db        Store
	pipeline  Pipeline
	ws        http.Handler
	cfg       *config.Config
	startTime time.Time
}

// NewHandler creates an API handler. ws may be nil when the live feed is
// not wired; the endpoint then answers 503.
func NewHandler(db Store, pipeline Pipeline, ws http.Handler, cfg *config.Config) *Handler {
	return &Handler{
		db:        db,
		pipeline:  pipeline,
		ws:        ws,
		cfg:       cfg,
		startTime: time.Now(),
	}
}

// pageParams clamps the limit to the configured ceiling. List endpoints
// cap server-side rather than reject, per the pagination contract.
func (h *Handler) pageParams(r *http.Request) (limit, offset int) {
	limit = getIntParam(r, "limit", h.cfg.API.DefaultPageSize)
	offset = getIntParam(r, "offset", 0)
	if limit > h.cfg.API.MaxPageSize {
		limit = h.cfg.API.MaxPageSize
	}
	return limit, offset
}

// eventsRequest validates the catalogue listing parameters.
type eventsRequest struct {
	Limit     int    `validate:"min=1"`
	Offset    int    `validate:"min=0"`
	City      string `validate:"omitempty,max=120"`
	State     string `validate:"omitempty,max=60"`
	From      string `validate:"omitempty,dateonly"`
	To        string `validate:"omitempty,dateonly"`
	Confirmed string `validate:"omitempty,oneof=true false"`
}

// Events handles GET /api/v1/events.
//
// Filters: city and state (case-insensitive exact match), from/to
// (YYYY-MM-DD, inclusive on both ends), confirmed (true/false). Results
// are ordered newest incident first.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	limit, offset := h.pageParams(r)

	req := eventsRequest{
		Limit:     limit,
		Offset:    offset,
		City:      r.URL.Query().Get("city"),
		State:     r.URL.Query().Get("state"),
		From:      r.URL.Query().Get("from"),
		To:        r.URL.Query().Get("to"),
		Confirmed: r.URL.Query().Get("confirmed"),
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidationError(w, apiErr)
		return
	}

	filter := database.UniqueEventFilter{
		City:   req.City,
		State:  req.State,
		Limit:  limit,
		Offset: offset,
	}
	if req.From != "" {
		from, _ := time.Parse("2006-01-02", req.From)
		filter.From = &from
	}
	if req.To != "" {
		to, _ := time.Parse("2006-01-02", req.To)
		filter.To = &to
	}
	if req.Confirmed != "" {
		confirmed := req.Confirmed == "true"
		filter.Confirmed = &confirmed
	}

	start := time.Now()
	events, total, err := h.db.GetUniqueEvents(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to retrieve events", err)
		return
	}
	if events == nil {
		events = []models.UniqueEvent{}
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: models.EventsResponse{
			Events:     events,
			Pagination: paginationInfo(limit, offset, len(events), total),
		},
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// EventByID handles GET /api/v1/events/{id}, returning the incident with
// its linked raw events, gold-standard rows first.
func (h *Handler) EventByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Event ID must be a positive integer", nil)
		return
	}

	start := time.Now()
	event, err := h.db.GetUniqueEventByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Event not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to retrieve event", err)
		return
	}

	rawEvents, err := h.db.GetRawEventsByUniqueEvent(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to retrieve raw events", err)
		return
	}
	if rawEvents == nil {
		rawEvents = []models.RawEvent{}
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: models.EventDetail{
			Event:     *event,
			RawEvents: rawEvents,
		},
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// rawEventsRequest validates the raw-event listing parameters.
type rawEventsRequest struct {
	Limit  int    `validate:"min=1"`
	Offset int    `validate:"min=0"`
	State  string `validate:"omitempty,oneof=pending matched clustered"`
}

// RawEvents handles GET /api/v1/raw-events, newest extraction first.
func (h *Handler) RawEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := h.pageParams(r)

	req := rawEventsRequest{
		Limit:  limit,
		Offset: offset,
		State:  r.URL.Query().Get("state"),
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidationError(w, apiErr)
		return
	}

	start := time.Now()
	rawEvents, total, err := h.db.GetRawEvents(r.Context(), database.RawEventFilter{
		DedupState: req.State,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to retrieve raw events", err)
		return
	}
	if rawEvents == nil {
		rawEvents = []models.RawEvent{}
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: models.RawEventsResponse{
			RawEvents:  rawEvents,
			Pagination: paginationInfo(limit, offset, len(rawEvents), total),
		},
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// sourcesRequest validates the source listing parameters. Status strings
// are checked against the state machine rather than a validator tag so
// the list cannot drift from models.AllSourceStatuses.
type sourcesRequest struct {
	Limit  int `validate:"min=1"`
	Offset int `validate:"min=0"`
}

// Sources handles GET /api/v1/sources, newest fetch first.
func (h *Handler) Sources(w http.ResponseWriter, r *http.Request) {
	limit, offset := h.pageParams(r)

	req := sourcesRequest{Limit: limit, Offset: offset}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidationError(w, apiErr)
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && !models.SourceStatus(status).Valid() {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown source status "+strconv.Quote(status), nil)
		return
	}

	start := time.Now()
	sources, total, err := h.db.GetSources(r.Context(), database.SourceFilter{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to retrieve sources", err)
		return
	}
	if sources == nil {
		sources = []models.Source{}
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: models.SourcesResponse{
			Sources:    sources,
			Pagination: paginationInfo(limit, offset, len(sources), total),
		},
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// Stats handles GET /api/v1/stats: per-status source counts including
// the terminal failure states, dedup-state counts, catalogue totals,
// feed coverage, and the last ingestion time.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	stats, err := h.db.GetPipelineStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to retrieve statistics", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   stats,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// Health handles GET /api/v1/health with the full dependency report.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dbConnected := h.db != nil && h.db.Ping(r.Context()) == nil

	status := "healthy"
	if !dbConnected {
		status = "degraded"
	}

	var lastRun *time.Time
	if h.pipeline != nil {
		if t := h.pipeline.LastRunTime(); !t.IsZero() {
			lastRun = &t
		}
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: models.HealthStatus{
			Status:            status,
			Version:           "1.0.0",
			DatabaseConnected: dbConnected,
			PipelineEnabled:   h.cfg.Pipeline.Enabled,
			LastPipelineRun:   lastRun,
			UptimeSeconds:     time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// HealthLive handles GET /api/v1/health/live: 200 whenever the process
// is up, regardless of dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"alive":          true,
			"uptime_seconds": time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// HealthReady handles GET /api/v1/health/ready: 200 only when the
// database answers a ping, 503 otherwise.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	dbConnected := h.db != nil && h.db.Ping(r.Context()) == nil

	statusCode := http.StatusOK
	status := "ready"
	if !dbConnected {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	respondJSON(w, statusCode, &models.APIResponse{
		Status: status,
		Data: map[string]interface{}{
			"database_connected": dbConnected,
			"uptime_seconds":     time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// PipelineRun handles POST /api/v1/pipeline/run. The full stage sweep
// runs asynchronously; 202 acknowledges the request only.
func (h *Handler) PipelineRun(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Pipeline is not available", nil)
		return
	}

	go h.pipeline.RunAll(context.Background())

	respondJSON(w, http.StatusAccepted, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"status": "accepted",
			"stages": pipeline.Stages,
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// PipelineStageRun handles POST /api/v1/pipeline/{stage}/run for a single
// stage. Unknown stage names are rejected before anything is scheduled.
func (h *Handler) PipelineStageRun(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Pipeline is not available", nil)
		return
	}

	stage := chi.URLParam(r, "stage")
	if !validStage(stage) {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown pipeline stage "+strconv.Quote(stage), nil)
		return
	}

	go func() {
		// Detached from the request; Trigger applies its own stage timeout
		// and publishes the run result on the bus.
		if _, err := h.pipeline.Trigger(context.Background(), stage); err != nil {
			logging.Warn().Err(err).Str("stage", stage).Msg("Manually triggered stage failed")
		}
	}()

	respondJSON(w, http.StatusAccepted, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"status": "accepted",
			"stage":  stage,
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// WebSocket handles GET /api/v1/ws by delegating to the hub's upgrade
// handler.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.ws == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Live feed is not enabled", nil)
		return
	}
	h.ws.ServeHTTP(w, r)
}
