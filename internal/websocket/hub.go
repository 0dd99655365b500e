// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package websocket

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/vigia-news/vigia/internal/eventbus"
	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/metrics"
)

// Message types carried on the socket.
const (
	MessageTypeIncident = "incident"
	MessageTypeStageRun = "stage_run"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// Message is the envelope every frame uses in both directions.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// MarshalMessage renders a message for the wire.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Hub owns the set of live connections and fans broadcasts out to them.
// It is both the broadcast loop (Serve) and the HTTP upgrade endpoint
// (ServeHTTP).
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewHub creates a hub that accepts upgrades from the given origins.
// "*" allows any origin; an empty list rejects every browser connection.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		clients:        make(map[*Client]bool),
		broadcast:      make(chan Message, 256),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

// Serve runs the hub loop until ctx is canceled, then closes every client
// and returns ctx.Err(). The signature matches suture.Service so the hub
// can sit directly in the supervision tree.
//
// Channel selection is priority-ordered: shutdown first, then client
// lifecycle, then broadcasts. Go's select picks randomly among ready
// channels; the ordered non-blocking checks keep the client set consistent
// before any message is fanned out.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.register(client)

		case client := <-h.Unregister:
			h.unregister(client)

		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	metrics.WSConnections.Set(float64(total))
	h.mu.Unlock()

	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	metrics.WSConnections.Set(float64(total))
	h.mu.Unlock()

	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

func (h *Hub) shutdown(ctx context.Context) {
	closed := h.closeAllClients()

	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", reason).
		Int("clients_closed", closed).
		Msg("websocket hub stopped")
}

// broadcastToClients fans one message out to every client in ID order.
// Iterating the map directly would deliver in random order run to run,
// which makes slow-client eviction nondeterministic under test.
func (h *Hub) broadcastToClients(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- msg:
			metrics.WSMessagesSent.Inc()
		default:
			// Queue full: the client is not draining. Dropping it beats
			// buffering without bound.
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		metrics.WSErrors.WithLabelValues("slow_client").Inc()
	}
	if len(toRemove) > 0 {
		metrics.WSConnections.Set(float64(len(h.clients)))
		logging.Warn().Int("dropped", len(toRemove)).Msg("dropped slow websocket clients")
	}
}

// closeAllClients closes every connection in ID order and empties the set.
func (h *Hub) closeAllClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WSConnections.Set(0)
	return len(clients)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastCatalogueChange queues a catalogue mutation for every client.
// The hub never blocks a publisher: if the broadcast queue is full the
// message is dropped and counted.
func (h *Hub) BroadcastCatalogueChange(event *eventbus.CatalogueEvent) {
	h.enqueue(Message{Type: MessageTypeIncident, Data: event})
}

// BroadcastStageRun queues a pipeline stage summary for every client.
func (h *Hub) BroadcastStageRun(event *eventbus.StageEvent) {
	h.enqueue(Message{Type: MessageTypeStageRun, Data: event})
}

func (h *Hub) enqueue(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		metrics.WSErrors.WithLabelValues("broadcast_full").Inc()
		logging.Warn().Str("message_type", msg.Type).Msg("broadcast queue full, dropping message")
	}
}

// HandleCatalogueMessage is a watermill handler for catalogue.changed.
// Undecodable payloads are dropped, not retried: a poison message would
// fail the same way forever.
func (h *Hub) HandleCatalogueMessage(msg *message.Message) error {
	event, err := eventbus.DecodeCatalogueEvent(msg.Payload)
	if err != nil {
		metrics.WSErrors.WithLabelValues("decode").Inc()
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("undecodable catalogue event")
		return nil
	}
	h.BroadcastCatalogueChange(event)
	return nil
}

// HandleStageMessage is a watermill handler for pipeline.stage.completed.
func (h *Hub) HandleStageMessage(msg *message.Message) error {
	event, err := eventbus.DecodeStageEvent(msg.Payload)
	if err != nil {
		metrics.WSErrors.WithLabelValues("decode").Inc()
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("undecodable stage event")
		return nil
	}
	h.BroadcastStageRun(event)
	return nil
}

// ServeHTTP upgrades the request and hands the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		metrics.WSErrors.WithLabelValues("upgrade").Inc()
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(h, conn)
	h.Register <- client
	client.Start()
}

// checkOrigin accepts the configured origins. A missing Origin header is
// rejected: browsers always send one, and a blank value would bypass the
// allow list entirely.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("websocket connection rejected: missing Origin header")
		return false
	}

	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", origin).Msg("websocket connection rejected: origin not allowed")
	return false
}
