// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

// Package simulate drives scripted visitors against a running server. Each
// visit loads a page through the capture agent, streams its events over a
// real tracking connection and leaves, so the whole pipeline is exercised
// without a browser.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tomtom215/pathtrace/internal/capture"
	"github.com/tomtom215/pathtrace/internal/identity"
	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/models"
	"github.com/tomtom215/pathtrace/internal/transport"
)

// DefaultUserAgent is sent when VisitConfig.UserAgent is empty.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

// VisitConfig describes one page visit.
type VisitConfig struct {
	// ServerURL is the site origin, e.g. http://localhost:3000.
	ServerURL string

	// Jar keeps the visitor cookie between visits. Required.
	Jar http.CookieJar

	// Resolver, when set, mints the visitor token client-side before the
	// first connection, the way a browser's first page load does. Without
	// it the server mints.
	Resolver *identity.Resolver

	// Pages are the paths visited in order; the first is the landing page.
	Pages []string

	UserAgent string
	Referrer  string

	// Pause separates scripted interactions. Zero runs them back to back.
	Pause time.Duration

	Rand *rand.Rand
}

// VisitResult summarizes a finished visit.
type VisitResult struct {
	Token  models.VisitorToken
	Minted bool
	Events int
}

// cookieStore adapts a CookieJar to identity.CookieStore for one origin.
type cookieStore struct {
	jar    http.CookieJar
	origin *url.URL
}

func (s cookieStore) Cookies() []*http.Cookie { return s.jar.Cookies(s.origin) }

func (s cookieStore) SetCookie(c *http.Cookie) { s.jar.SetCookies(s.origin, []*http.Cookie{c}) }

// countingEmitter counts events that reached the connection.
type countingEmitter struct {
	next capture.Emitter
	sent atomic.Int64
}

func (e *countingEmitter) Emit(ctx context.Context, req models.TrackRequest) error {
	if err := e.next.Emit(ctx, req); err != nil {
		return err
	}
	e.sent.Add(1)
	return nil
}

// landingPage builds the in-memory document every visit starts on.
func landingPage(rawURL, referrer string) (*capture.Page, *capture.Node, *capture.Node, error) {
	header := &capture.Node{Tag: "header", NodeID: "site-header", Box: models.Rect{Width: 1280, Height: 80}}
	search := &capture.Node{
		Tag: "input", NodeID: "search", Class: "search-box", Editable: true,
		Box: models.Rect{Top: 20, Left: 400, Width: 300, Height: 36},
	}
	buy := &capture.Node{
		Tag: "button", NodeID: "buy", Class: "btn btn-primary", Text: "Buy now",
		Box: models.Rect{Top: 300, Left: 100, Width: 160, Height: 48},
	}
	footer := &capture.Node{Tag: "footer", Class: "site-footer", Box: models.Rect{Top: 1600, Width: 1280, Height: 200}}

	page, err := capture.NewPage(rawURL, referrer, models.Viewport{Width: 1280, Height: 720}, header, search, buy, footer)
	if err != nil {
		return nil, nil, nil, err
	}
	return page, search, buy, nil
}

// Visit performs one scripted visit and returns once the connection is closed.
func Visit(ctx context.Context, cfg VisitConfig) (VisitResult, error) {
	if cfg.Jar == nil {
		return VisitResult{}, errors.New("simulate: cookie jar required")
	}
	if len(cfg.Pages) == 0 {
		cfg.Pages = []string{"/"}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	origin, err := url.Parse(strings.TrimSuffix(cfg.ServerURL, "/"))
	if err != nil {
		return VisitResult{}, fmt.Errorf("parse server url: %w", err)
	}

	var clientMinted bool
	if cfg.Resolver != nil {
		_, clientMinted = cfg.Resolver.EnsureToken(cookieStore{jar: cfg.Jar, origin: origin})
	}

	pageURL := origin.String() + cfg.Pages[0]
	page, search, buy, err := landingPage(pageURL, cfg.Referrer)
	if err != nil {
		return VisitResult{}, err
	}

	client, err := transport.Dial(ctx, origin.String(), transport.Options{
		Jar:       cfg.Jar,
		Referer:   pageURL,
		UserAgent: cfg.UserAgent,
	})
	if err != nil {
		return VisitResult{}, err
	}

	emitter := &countingEmitter{next: client}
	agent := capture.NewAgent(page, emitter)
	if err := agent.Start(ctx); err != nil {
		_ = client.Close()
		return VisitResult{}, fmt.Errorf("start capture: %w", err)
	}

	s := script{ctx: ctx, pause: cfg.Pause, rnd: cfg.Rand}
	s.step(func() { agent.HandleMouseMove(10, 10) })
	s.step(func() { agent.HandleMouseMove(float64(110+s.rnd.IntN(100)), 320) })
	s.step(func() { agent.HandleClick(buy, 150, 320) })
	s.step(func() {
		page.ScrollTo(0, float64(200+s.rnd.IntN(800)))
		agent.HandleScroll()
	})
	s.step(func() {
		page.Focus(search)
		for _, r := range "running shoes" {
			agent.HandleKeyDown(string(r))
		}
		agent.HandleKeyDown("Enter")
		agent.Flush()
	})
	s.step(func() { agent.HandleVisibilityChange(true) })
	s.step(func() { agent.HandleVisibilityChange(false) })
	for _, path := range cfg.Pages[1:] {
		s.step(func() {
			if err := page.Navigate(path); err == nil {
				agent.HandlePopState()
			}
		})
	}
	agent.HandleBeforeUnload()
	agent.Close()

	res := VisitResult{
		Token:  client.Token(),
		Minted: clientMinted || client.Minted(),
		Events: int(emitter.sent.Load()),
	}
	if err := client.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		logging.Debug().Err(err).Msg("closing simulated visit")
	}

	logging.Debug().
		Str("visitor", logging.MaskToken(string(res.Token))).
		Int("events", res.Events).
		Bool("minted", res.Minted).
		Msg("simulated visit finished")
	return res, ctx.Err()
}

// script runs interactions with an optional jittered pause between them and
// stops early once ctx is done.
type script struct {
	ctx   context.Context
	pause time.Duration
	rnd   *rand.Rand
}

func (s *script) step(fn func()) {
	if s.ctx.Err() != nil {
		return
	}
	fn()
	if s.pause <= 0 {
		return
	}
	jitter := time.Duration(s.rnd.Int64N(int64(s.pause)))
	t := time.NewTimer(s.pause/2 + jitter)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
	case <-t.C:
	}
}
