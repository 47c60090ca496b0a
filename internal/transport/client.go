// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

// Package transport is the browser side of the tracking channel: one
// websocket per tab, presenting the visitor cookie and the page as referrer,
// over which track_event frames are written in order.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/models"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 10 * time.Second
	closeWait               = time.Second
)

// ErrClosed is returned by Emit after the connection has ended.
var ErrClosed = errors.New("transport: connection closed")

// Options configures Dial.
type Options struct {
	// CookieName is the visitor cookie key. Defaults to "tracking_id".
	CookieName string

	// Token is presented as the visitor cookie. Leave empty to let the server
	// mint one, or use Jar.
	Token models.VisitorToken

	// Jar supplies cookies for the handshake and stores any the server sets.
	Jar http.CookieJar

	// Referer identifies the page; the server routes admin pages to the
	// observer channel.
	Referer   string
	UserAgent string

	HandshakeTimeout time.Duration

	// OnFrame receives every server frame, including identity notices, on
	// the read goroutine.
	OnFrame func(models.Frame)
}

// Client is one open tracking connection. Emit is safe for concurrent use.
type Client struct {
	conn       *websocket.Conn
	cookieName string
	onFrame    func(models.Frame)

	tokenMu sync.RWMutex
	token   models.VisitorToken
	minted  bool

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// WebSocketURL converts a server base URL (http, https, ws or wss) into the
// tracking endpoint URL. An empty path becomes /ws.
func WebSocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// Dial opens a tracking connection to rawURL.
func Dial(ctx context.Context, rawURL string, opts Options) (*Client, error) {
	wsURL, err := WebSocketURL(rawURL)
	if err != nil {
		return nil, err
	}
	if opts.CookieName == "" {
		opts.CookieName = "tracking_id"
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  opts.HandshakeTimeout,
		Jar:               opts.Jar,
		EnableCompression: true,
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Cookie", (&http.Cookie{Name: opts.CookieName, Value: string(opts.Token)}).String())
	}
	if opts.Referer != "" {
		header.Set("Referer", opts.Referer)
	}
	if opts.UserAgent != "" {
		header.Set("User-Agent", opts.UserAgent)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &Client{
		conn:       conn,
		cookieName: opts.CookieName,
		onFrame:    opts.OnFrame,
		token:      opts.Token,
		done:       make(chan struct{}),
	}
	if c.token == "" && opts.Jar != nil {
		c.token = jarToken(opts.Jar, wsURL, opts.CookieName)
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == opts.CookieName && ck.Value != "" {
			c.token = models.VisitorToken(ck.Value)
			c.minted = true
		}
	}

	token := c.token
	go c.listen()

	logging.Debug().
		Str("url", wsURL).
		Str("visitor", logging.MaskToken(string(token))).
		Msg("tracking connection open")
	return c, nil
}

func jarToken(jar http.CookieJar, wsURL, name string) models.VisitorToken {
	u, err := url.Parse(wsURL)
	if err != nil {
		return ""
	}
	u.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
	for _, ck := range jar.Cookies(u) {
		if ck.Name == name {
			return models.VisitorToken(ck.Value)
		}
	}
	return ""
}

// listen reads server frames until the connection ends. Reading also answers
// the server's keepalive pings.
func (c *Client) listen() {
	defer close(c.done)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug().Err(err).Msg("tracking connection read ended")
			}
			return
		}

		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logging.Debug().Err(err).Msg("ignoring undecodable server frame")
			continue
		}

		if frame.Type == models.MessageIdentity {
			var notice models.IdentityNotice
			if err := json.Unmarshal(frame.Data, &notice); err == nil && notice.Token != "" {
				c.tokenMu.Lock()
				c.token = notice.Token
				c.minted = notice.Minted
				c.tokenMu.Unlock()
			}
		}
		if c.onFrame != nil {
			c.onFrame(frame)
		}
	}
}

// Token returns the visitor token in use. It is empty until the server has
// assigned one when Dial was given none.
func (c *Client) Token() models.VisitorToken {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// Minted reports whether the server created the token for this connection.
func (c *Client) Minted() bool {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.minted
}

// Emit writes one track_event frame. Frames are written in call order.
func (c *Client) Emit(ctx context.Context, req models.TrackRequest) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	payload, err := json.Marshal(models.Frame{Type: models.MessageTrackEvent, Data: data})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write %s: %w", req.Type, err)
	}
	return nil
}

// Done is closed when the connection stops reading.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a normal closure and waits for the reader to stop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		werr := c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait),
		)
		c.writeMu.Unlock()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			logging.Debug().Err(werr).Msg("failed to send close frame")
		}

		select {
		case <-c.done:
		case <-time.After(closeWait):
		}
		err = c.conn.Close()
		<-c.done
	})
	return err
}
