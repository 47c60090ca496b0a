// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package websocket

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/metrics"
	"github.com/tomtom215/pathtrace/internal/models"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// broadcastBuffer bounds broadcasts queued for the hub loop.
const broadcastBuffer = 1024

// Role separates the observer channel from the session channel.
type Role int

const (
	RoleSession Role = iota
	RoleObserver
)

func (r Role) String() string {
	if r == RoleObserver {
		return "observer"
	}
	return "session"
}

// NewFrame encodes data as the payload of a frame of type msgType.
// A nil data produces a frame without payload.
func NewFrame(msgType string, data any) (models.Frame, error) {
	frame := models.Frame{Type: msgType}
	if data == nil {
		return frame, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return frame, fmt.Errorf("encode %s frame: %w", msgType, err)
	}
	frame.Data = raw
	return frame, nil
}

// Hub tracks connected clients and fans broadcasts out to observers.
type Hub struct {
	clients   map[*Client]bool
	broadcast chan models.Frame
	mu        sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*Client]bool),
		broadcast: make(chan models.Frame, broadcastBuffer),
	}
}

// Add registers c, queueing initial frames ahead of anything else it will
// receive. Registration is synchronous: a broadcast accepted by the hub after
// Add returns reaches c after its initial frames.
func (h *Hub) Add(c *Client, initial ...models.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, frame := range initial {
		select {
		case c.send <- frame:
		default:
			logging.Warn().Str("type", frame.Type).Msg("initial frame exceeds client send buffer")
		}
	}
	h.clients[c] = true
	metrics.WebSocketConnections.WithLabelValues(c.role.String()).Inc()
	logging.Debug().
		Str("role", c.role.String()).
		Str("connection_id", c.connID).
		Int("total_clients", len(h.clients)).
		Msg("websocket client connected")
}

// Remove unregisters c and closes its send buffer. Removing an unknown client is a no-op.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketConnections.WithLabelValues(c.role.String()).Dec()
	logging.Debug().
		Str("role", c.role.String()).
		Str("connection_id", c.connID).
		Int("total_clients", len(h.clients)).
		Msg("websocket client disconnected")
}

// Send queues a frame for one registered client. It reports false when the
// client is gone or its buffer is full.
func (h *Hub) Send(c *Client, frame models.Frame) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// RunWithContext delivers queued broadcasts until ctx is canceled, then closes
// every client. It is restartable by a supervisor.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Shutdown wins over pending broadcasts.
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case frame := <-h.broadcast:
			h.broadcastToObservers(frame)
		}
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	count := h.ClientCount()
	h.closeAllClients()

	reason := ShutdownReasonContextCanceled
	if ctx.Err() == context.DeadlineExceeded {
		reason = ShutdownReasonContextDeadline
	}
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(reason)).
		Int("clients_closed", count).
		Msg("websocket hub stopped")
}

// sortedLocked returns clients with the given role in connection order.
func (h *Hub) sortedLocked(role Role) []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c.role == role {
			clients = append(clients, c)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

func (h *Hub) broadcastToObservers(frame models.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.sortedLocked(RoleObserver) {
		select {
		case c.send <- frame:
			metrics.BroadcastsSent.WithLabelValues(frame.Type).Inc()
		default:
			metrics.BroadcastsDropped.WithLabelValues("slow_observer").Inc()
			logging.Warn().Str("connection_id", c.connID).Msg("observer send buffer full, disconnecting")
			h.removeLocked(c)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, role := range []Role{RoleObserver, RoleSession} {
		for _, c := range h.sortedLocked(role) {
			h.removeLocked(c)
		}
	}
}

// BroadcastToObservers encodes data and queues it for every observer. It never
// blocks; when the queue is full the frame is dropped and counted.
func (h *Hub) BroadcastToObservers(msgType string, data any) {
	frame, err := NewFrame(msgType, data)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode broadcast")
		return
	}
	select {
	case h.broadcast <- frame:
	default:
		metrics.BroadcastsDropped.WithLabelValues("queue_full").Inc()
		logging.Warn().Str("type", msgType).Msg("broadcast queue full, dropping message")
	}
}

// ClientCount returns the number of connected clients of both roles.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ObserverCount returns the number of connected observers.
func (h *Hub) ObserverCount() int {
	return h.count(RoleObserver)
}

// SessionCount returns the number of connected tracked sessions.
func (h *Hub) SessionCount() int {
	return h.count(RoleSession)
}

func (h *Hub) count(role Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.role == role {
			n++
		}
	}
	return n
}
