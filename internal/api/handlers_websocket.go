// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package api

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/pathtrace/internal/aggregator"
	"github.com/tomtom215/pathtrace/internal/enrich"
	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/metrics"
	"github.com/tomtom215/pathtrace/internal/models"
	ws "github.com/tomtom215/pathtrace/internal/websocket"
)

// WebSocket upgrades the request. Pages under the admin route join the
// observer channel; everything else is a tracked session.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.isObserverRequest(r) {
		h.serveObserver(w, r)
		return
	}
	h.serveSession(w, r)
}

func (h *Handler) clientOptions(role ws.Role, connID string) ws.ClientOptions {
	return ws.ClientOptions{
		Role:           role,
		ConnID:         connID,
		MaxMessageSize: h.config.Tracking.MaxMessageBytes,
		SendBuffer:     h.config.Tracking.SendBuffer,
	}
}

// serveObserver sends the full table once, then every broadcast. Inbound
// frames from observers are ignored.
func (h *Handler) serveObserver(w http.ResponseWriter, r *http.Request) {
	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("observer websocket upgrade failed")
		return
	}

	connID := logging.GenerateConnectionID()
	client := ws.NewClient(h.hub, conn, h.clientOptions(ws.RoleObserver, connID))

	h.aggregator.AttachObserver(func(table models.UserTable) {
		frame, err := ws.NewFrame(models.MessageFullUserData, table)
		if err != nil {
			logging.Error().Err(err).Msg("failed to encode full user table")
			h.hub.Add(client)
			return
		}
		h.hub.Add(client, frame)
	})
	client.Start()

	logging.Info().Str("connection_id", connID).Msg("observer connected")
}

// serveSession resolves the visitor, registers the connection with the
// aggregator and feeds it every track_event read from the socket.
func (h *Handler) serveSession(w http.ResponseWriter, r *http.Request) {
	res := h.resolver.Resolve(r.Header.Get("Cookie"))

	var header http.Header
	if res.Minted {
		// The client never chose this token; hand it back so the next
		// connection presents it instead of forking a new identity.
		header = http.Header{}
		header.Add("Set-Cookie", h.resolver.Cookie(res.Token).String())
		metrics.IdentitiesMinted.Inc()
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, header)
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("session websocket upgrade failed")
		return
	}

	sess, err := h.aggregator.Connect(r.Context(), aggregator.ConnectInfo{
		Token:     res.Token,
		IP:        enrich.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		logging.Warn().Err(err).Msg("rejecting tracking connection")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid visitor"))
		_ = conn.Close()
		return
	}

	connID := logging.GenerateConnectionID()
	opts := h.clientOptions(ws.RoleSession, connID)
	opts.OnFrame = func(frame models.Frame) {
		if frame.Type != models.MessageTrackEvent {
			return
		}
		var req models.TrackRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			logging.Debug().Err(err).Str("connection_id", connID).Msg("ignoring malformed track_event")
			return
		}
		h.aggregator.Track(sess, req)
	}
	opts.OnClose = func() {
		h.aggregator.Disconnect(sess)
	}
	client := ws.NewClient(h.hub, conn, opts)

	var initial []models.Frame
	if res.Minted {
		frame, err := ws.NewFrame(models.MessageIdentity, models.IdentityNotice{Token: res.Token, Minted: true})
		if err == nil {
			initial = append(initial, frame)
		}
	}
	h.hub.Add(client, initial...)
	client.Start()

	logging.Debug().
		Str("connection_id", connID).
		Str("visitor", logging.MaskToken(string(res.Token))).
		Bool("minted", res.Minted).
		Msg("tracking session connected")
}
