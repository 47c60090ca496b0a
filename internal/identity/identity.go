// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

// Package identity assigns and re-derives visitor tokens.
//
// A token is minted once per browser as visitor-<unix-ms>-<0..999> and kept in a
// 30-day cookie. Resolution from a presented Cookie header is a pure lookup;
// minting is always surfaced to the caller through Resolution.Minted so that a
// server-minted token can be handed back to the client instead of silently
// forking the visitor's identity.
package identity

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/coder/quartz"

	"github.com/tomtom215/pathtrace/internal/models"
)

const (
	// DefaultCookieName is the cookie key holding the visitor token.
	DefaultCookieName = "tracking_id"

	// DefaultLifetime is how long a browser keeps its token.
	DefaultLifetime = 30 * 24 * time.Hour

	tokenPrefix = "visitor-"
	randomSpan  = 1000
)

// ErrNoToken is returned by ParseToken when the credential carries no token.
var ErrNoToken = errors.New("identity: no visitor token in credential")

// Minter creates new visitor tokens. Collisions are possible (same millisecond,
// same random suffix) and accepted.
type Minter struct {
	clock quartz.Clock
	intn  func(n int) int
}

// MinterOption configures a Minter.
type MinterOption func(*Minter)

// WithRandom replaces the random suffix source. Tests use it for fixed tokens.
func WithRandom(intn func(n int) int) MinterOption {
	return func(m *Minter) { m.intn = intn }
}

// NewMinter returns a Minter reading time from clock (real time when nil).
func NewMinter(clock quartz.Clock, opts ...MinterOption) *Minter {
	if clock == nil {
		clock = quartz.NewReal()
	}
	m := &Minter{clock: clock, intn: rand.IntN}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mint returns a fresh token.
func (m *Minter) Mint() models.VisitorToken {
	return models.VisitorToken(fmt.Sprintf("%s%d-%d", tokenPrefix, m.clock.Now().UnixMilli(), m.intn(randomSpan)))
}

// IsWellFormed reports whether token follows the visitor-<ms>-<n> scheme.
// The server accepts any non-empty token; this is informational only.
func IsWellFormed(token models.VisitorToken) bool {
	rest, ok := strings.CutPrefix(string(token), tokenPrefix)
	if !ok {
		return false
	}
	ms, n, ok := strings.Cut(rest, "-")
	return ok && isDigits(ms) && isDigits(n) && len(n) <= 3
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseToken extracts the named cookie from a Cookie header value. Malformed
// pairs are skipped rather than failing the whole header.
func ParseToken(credential, cookieName string) (models.VisitorToken, error) {
	for _, part := range strings.Split(credential, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(name) != cookieName {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if value != "" {
			return models.VisitorToken(value), nil
		}
	}
	return "", ErrNoToken
}

// Resolution is the outcome of resolving a credential.
type Resolution struct {
	Token  models.VisitorToken
	Minted bool // true when the credential carried no token and a new one was created
}

// Resolver maps presented credentials to tokens.
type Resolver struct {
	cookieName string
	lifetime   time.Duration
	secure     bool
	minter     *Minter
}

// Config configures a Resolver.
type Config struct {
	CookieName string
	Lifetime   time.Duration
	Secure     bool
}

// NewResolver returns a Resolver. Zero config fields take the package defaults.
func NewResolver(cfg Config, minter *Minter) *Resolver {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultLifetime
	}
	if minter == nil {
		minter = NewMinter(nil)
	}
	return &Resolver{cookieName: cfg.CookieName, lifetime: cfg.Lifetime, secure: cfg.Secure, minter: minter}
}

// CookieName returns the cookie key the resolver reads and writes.
func (r *Resolver) CookieName() string { return r.cookieName }

// Resolve returns the token carried by credential, minting one when absent.
func (r *Resolver) Resolve(credential string) Resolution {
	if token, err := ParseToken(credential, r.cookieName); err == nil {
		return Resolution{Token: token}
	}
	return Resolution{Token: r.minter.Mint(), Minted: true}
}

// Cookie builds the persistent cookie that stores token.
func (r *Resolver) Cookie(token models.VisitorToken) *http.Cookie {
	return &http.Cookie{
		Name:     r.cookieName,
		Value:    string(token),
		Path:     "/",
		MaxAge:   int(r.lifetime / time.Second),
		Expires:  r.minter.clock.Now().Add(r.lifetime).UTC(),
		Secure:   r.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// CookieStore is the client-side cookie storage a capture agent runs against.
type CookieStore interface {
	Cookies() []*http.Cookie
	SetCookie(c *http.Cookie)
}

// EnsureToken returns the token already kept in store, or mints one, persists
// it and reports minted=true. This is the first-load path of a browser context.
func (r *Resolver) EnsureToken(store CookieStore) (token models.VisitorToken, minted bool) {
	for _, c := range store.Cookies() {
		if c.Name == r.cookieName && c.Value != "" {
			return models.VisitorToken(c.Value), false
		}
	}
	token = r.minter.Mint()
	store.SetCookie(r.Cookie(token))
	return token, true
}
