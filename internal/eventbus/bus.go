// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

// Package eventbus is the in-process pub/sub fabric between the pipeline
// and the serving layer. Stages publish completion summaries and catalogue
// mutations; the router fans them out to whoever registered a handler,
// typically the stage chain (run the next stage when the previous one
// produced output) and the WebSocket hub (live feed).
//
// The transport is watermill's gochannel: single process, no broker, no
// persistence. A payload published with no live subscriber is dropped,
// which is the wanted behavior for wake-ups and feeds.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/metrics"
	"github.com/vigia-news/vigia/internal/models"
)

// outputBuffer bounds per-subscriber channel depth so one slow consumer
// cannot block stage publishing.
const outputBuffer = 256

// Bus wraps the gochannel pub/sub with validation, serialization, and an
// idempotent Close.
type Bus struct {
	pubsub *gochannel.GoChannel
	mu     sync.RWMutex
	closed bool
}

// New creates an in-process bus.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: outputBuffer,
		}, NewLoggerAdapter()),
	}
}

// Publish validates and serializes the event, then publishes it to the
// event's topic. The event ID becomes the message UUID.
func (b *Bus) Publish(event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	b.mu.RUnlock()

	data, err := Serialize(event)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	msg := message.NewMessage(event.ID(), data)
	if err := b.pubsub.Publish(event.Topic(), msg); err != nil {
		return fmt.Errorf("publish to %s: %w", event.Topic(), err)
	}

	metrics.BusMessagesPublished.WithLabelValues(event.Topic()).Inc()
	return nil
}

// PublishStageResult announces a finished stage pass.
func (b *Bus) PublishStageResult(result models.StageRunResult) error {
	return b.Publish(NewStageEvent(result))
}

// PublishCatalogueChange announces a catalogue mutation. For merges,
// mergedFromID names the absorbed incident; pass nil otherwise.
func (b *Bus) PublishCatalogueChange(kind CatalogueKind, incident *models.UniqueEvent, mergedFromID *int64) error {
	event := NewCatalogueEvent(kind, incident)
	event.MergedFromID = mergedFromID
	return b.Publish(event)
}

// Subscribe returns a message channel for the topic. The subscription lives
// until ctx is cancelled or the bus closes; consumers must Ack or Nack
// every message.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Subscriber exposes the underlying watermill subscriber for router wiring.
func (b *Bus) Subscriber() message.Subscriber {
	return b.pubsub
}

// Close shuts the bus down. Safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return b.pubsub.Close()
}

// RouterConfig bounds redelivery of failed handlers.
type RouterConfig struct {
	CloseTimeout    time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRouterConfig returns the production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:    30 * time.Second,
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

// Router dispatches bus messages to registered handlers with panic recovery
// and exponential-backoff retry. Handlers returning nil ack the message;
// a handler that still fails after MaxRetries drops it.
//
// Signal handling is deliberately left to the supervision tree; the router
// stops when its Run context is cancelled.
type Router struct {
	router *message.Router
	bus    *Bus
}

// NewRouter creates a message router bound to the bus.
func NewRouter(bus *Bus, cfg RouterConfig) (*Router, error) {
	logger := NewLoggerAdapter()

	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	wmRouter.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      cfg.Multiplier,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retry.Middleware)

	return &Router{router: wmRouter, bus: bus}, nil
}

// AddConsumerHandler registers a read-only handler for one topic. Must be
// called before Run.
func (r *Router) AddConsumerHandler(name, topic string, handler message.NoPublishHandlerFunc) {
	r.router.AddConsumerHandler(name, topic, r.bus.Subscriber(), handler)
}

// Run starts the router and blocks until ctx is cancelled or Close is
// called.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running returns a channel that closes once all handlers are consuming.
// Publish before that point and the gochannel transport drops the message.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// Close stops the router, waiting up to CloseTimeout for in-flight
// handlers.
func (r *Router) Close() error {
	return r.router.Close()
}

// loggerAdapter routes watermill's internal logging through zerolog so bus
// internals share the process-wide log stream.
type loggerAdapter struct {
	fields watermill.LogFields
}

// NewLoggerAdapter returns a watermill.LoggerAdapter backed by the global
// zerolog logger.
func NewLoggerAdapter() watermill.LoggerAdapter {
	return &loggerAdapter{}
}

func (l *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	l.emit(logging.Error().Err(err), msg, fields)
}

func (l *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	l.emit(logging.Debug(), msg, fields) // watermill info is wire noise at vigia's log level
}

func (l *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	l.emit(logging.Debug(), msg, fields)
}

func (l *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	l.emit(logging.Trace(), msg, fields)
}

func (l *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &loggerAdapter{fields: l.fields.Add(fields)}
}

func (l *loggerAdapter) emit(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range l.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
