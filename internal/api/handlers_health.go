// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package api

import (
	"net/http"
	"time"
)

// HealthLive reports that the process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady returns 503 until the user table has been loaded.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if !h.ready.Load() {
		rw.ServiceUnavailable("user table not loaded")
		return
	}
	rw.Success(map[string]interface{}{
		"ready":     true,
		"users":     h.aggregator.UserCount(),
		"observers": h.hub.ObserverCount(),
		"sessions":  h.hub.SessionCount(),
		"uptime":    time.Since(h.startTime).Seconds(),
	})
}
