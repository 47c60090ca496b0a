// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

// Package api is the HTTP surface: the /ws tracking and observer endpoint,
// the read-only snapshot API consumed by analysis collaborators, health
// probes and metrics.
package api

import (
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/pathtrace/internal/aggregator"
	"github.com/tomtom215/pathtrace/internal/config"
	"github.com/tomtom215/pathtrace/internal/identity"
	"github.com/tomtom215/pathtrace/internal/logging"
	ws "github.com/tomtom215/pathtrace/internal/websocket"
)

// Handler serves every route. It holds handles to the aggregator and hub
// but owns neither.
type Handler struct {
	config     *config.Config
	aggregator *aggregator.Aggregator
	hub        *ws.Hub
	resolver   *identity.Resolver

	ready     atomic.Bool
	startTime time.Time
}

// NewHandler wires a Handler. The service reports not ready until SetReady.
func NewHandler(cfg *config.Config, agg *aggregator.Aggregator, hub *ws.Hub, resolver *identity.Resolver) *Handler {
	return &Handler{
		config:     cfg,
		aggregator: agg,
		hub:        hub,
		resolver:   resolver,
		startTime:  time.Now(),
	}
}

// SetReady marks the user table as loaded.
func (h *Handler) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin admits same-host pages and configured origins.
// Requests without an Origin header come from non-browser agents such as the
// simulator and are admitted.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.config.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("websocket connection rejected from unauthorized origin")
	return false
}

// isObserverRequest reports whether the connecting page is under the admin
// route, judged by the Referer path.
func (h *Handler) isObserverRequest(r *http.Request) bool {
	ref := r.Referer()
	if ref == "" {
		return false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	prefix := h.config.Server.AdminRoute
	if prefix == "/" {
		return true
	}
	return u.Path == prefix || strings.HasPrefix(u.Path, prefix+"/")
}

// sanitizeLogValue truncates and strips control characters from client input.
func sanitizeLogValue(s string) string {
	const maxLen = 200
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
