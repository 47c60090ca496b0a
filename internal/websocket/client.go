// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// DefaultMaxMessageSize bounds one inbound frame. page_view frames carry
	// the visible-element snapshot, so this is generous.
	DefaultMaxMessageSize = 512 * 1024

	// DefaultSendBuffer is the per-client outbound queue length.
	DefaultSendBuffer = 256
)

// clientIDCounter orders clients for deterministic broadcast and shutdown.
var clientIDCounter atomic.Uint64

// ClientOptions configures a Client.
type ClientOptions struct {
	Role Role

	// ConnID is a log correlation identifier.
	ConnID string

	// OnFrame receives every inbound frame except pings, one at a time and in
	// arrival order, on the read goroutine.
	OnFrame func(frame models.Frame)

	// OnClose runs once after the connection stops reading.
	OnClose func()

	MaxMessageSize int64
	SendBuffer     int
}

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	id     uint64
	hub    *Hub
	conn   *websocket.Conn
	send   chan models.Frame
	role   Role
	connID string

	onFrame        func(models.Frame)
	onClose        func()
	closeOnce      sync.Once
	maxMessageSize int64
}

// NewClient creates a client for conn. It must be added to the hub before Start.
func NewClient(hub *Hub, conn *websocket.Conn, opts ClientOptions) *Client {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	return &Client{
		id:             clientIDCounter.Add(1),
		hub:            hub,
		conn:           conn,
		send:           make(chan models.Frame, opts.SendBuffer),
		role:           opts.Role,
		connID:         opts.ConnID,
		onFrame:        opts.OnFrame,
		onClose:        opts.OnClose,
		maxMessageSize: opts.MaxMessageSize,
	}
}

// ID returns the client's ordering identifier.
func (c *Client) ID() uint64 { return c.id }

// Role returns the client's subscription channel.
func (c *Client) Role() Role { return c.role }

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) closed() {
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose()
		}
	})
}

// readPump decodes inbound frames until the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.hub.Remove(c)
		_ = c.conn.Close()
		c.closed()
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("connection_id", c.connID).Msg("unexpected websocket close")
			}
			return
		}

		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logging.Debug().Err(err).Str("connection_id", c.connID).Msg("ignoring undecodable frame")
			continue
		}

		if frame.Type == models.MessagePing {
			c.hub.Send(c, models.Frame{Type: models.MessagePong})
			continue
		}
		if c.onFrame != nil {
			c.onFrame(frame)
		}
	}
}

// writePump drains the send buffer to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(frame)
			if err != nil {
				logging.Error().Err(err).Str("type", frame.Type).Msg("failed to encode frame")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Debug().Err(err).Str("connection_id", c.connID).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
