// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

// Package aggregator owns the user table.
//
// The Aggregator is the single writer: connection handlers hold a handle to it
// and every mutation (record creation, action append, lastSeen update) runs
// under its mutex, so each one is atomic with respect to the others and to
// snapshots taken by the checkpointer. Broadcasts are issued while the lock is
// held, so observers receive them in mutation order.
//
// Events from one connection are appended in the order they are read from that
// connection. Nothing is ordered across connections.
package aggregator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/tomtom215/pathtrace/internal/enrich"
	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/metrics"
	"github.com/tomtom215/pathtrace/internal/models"
)

var (
	// ErrUnknownVisitor is returned by Record for a token with no record.
	ErrUnknownVisitor = errors.New("aggregator: unknown visitor")

	// ErrEmptyToken is returned by Connect when the session carries no token.
	ErrEmptyToken = errors.New("aggregator: empty visitor token")
)

// Broadcaster delivers messages to observers.
type Broadcaster interface {
	BroadcastToObservers(msgType string, data any)
}

// GeoResolver maps a normalized IP address to a location. It never fails;
// unresolvable addresses map to Unknown.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) models.Geo
}

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastToObservers(string, any) {}

type unknownGeo struct{}

func (unknownGeo) Resolve(context.Context, string) models.Geo { return models.UnknownGeo() }

// Options wires the aggregator's collaborators. Zero fields take defaults.
type Options struct {
	Broadcaster   Broadcaster
	Geo           GeoResolver
	Clock         quartz.Clock
	DefaultScreen models.Screen
}

// ConnectInfo is the request metadata of a new tracked connection.
type ConnectInfo struct {
	Token     models.VisitorToken
	IP        string // normalized
	UserAgent string
}

// Session is a handle for one tracked connection.
type Session struct {
	Token     models.VisitorToken
	IP        string
	UserAgent string

	// Created is true when this connection created the visitor's record.
	Created bool
}

// Aggregator merges events into per-visitor records.
type Aggregator struct {
	mu    sync.Mutex
	users models.UserTable

	broadcaster Broadcaster
	geo         GeoResolver
	clock       quartz.Clock
	screen      models.Screen
}

// New takes ownership of table, which may be nil.
func New(table models.UserTable, opts Options) *Aggregator {
	if table == nil {
		table = make(models.UserTable)
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = noopBroadcaster{}
	}
	if opts.Geo == nil {
		opts.Geo = unknownGeo{}
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.DefaultScreen == (models.Screen{}) {
		opts.DefaultScreen = enrich.DefaultScreen
	}

	metrics.UsersTracked.Set(float64(len(table)))
	return &Aggregator{
		users:       table,
		broadcaster: opts.Broadcaster,
		geo:         opts.Geo,
		clock:       opts.Clock,
		screen:      opts.DefaultScreen,
	}
}

func (a *Aggregator) now() time.Time {
	return a.clock.Now("aggregator", "receipt").UTC()
}

// Connect registers a tracked connection, creating the visitor's record on
// first sight, and broadcasts the record as a user_update.
//
// Enrichment of a new visitor happens outside the lock so a slow geo lookup
// does not stall other connections; the record is inserted only if no other
// connection created it meanwhile.
func (a *Aggregator) Connect(ctx context.Context, info ConnectInfo) (*Session, error) {
	if info.Token == "" {
		return nil, ErrEmptyToken
	}
	sess := &Session{Token: info.Token, IP: info.IP, UserAgent: info.UserAgent}

	a.mu.Lock()
	_, known := a.users[info.Token]
	a.mu.Unlock()

	var fresh *models.UserRecord
	if !known {
		fresh = a.newRecord(info.Token, info.IP, info.UserAgent, a.geo.Resolve(ctx, info.IP))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.users[info.Token]
	if !ok {
		if fresh == nil {
			fresh = a.newRecord(info.Token, info.IP, info.UserAgent, models.UnknownGeo())
		}
		rec = fresh
		a.insertLocked(rec)
		sess.Created = true
	}

	a.broadcaster.BroadcastToObservers(models.MessageUserUpdate, rec)

	logging.Debug().
		Str("visitor", logging.MaskToken(string(info.Token))).
		Str("ip", logging.MaskIP(info.IP)).
		Bool("created", sess.Created).
		Msg("visitor connected")
	return sess, nil
}

func (a *Aggregator) newRecord(token models.VisitorToken, ip, ua string, geo models.Geo) *models.UserRecord {
	ts := a.now()
	return &models.UserRecord{
		ID:        token,
		IP:        ip,
		Geo:       geo,
		Device:    enrich.ParseDevice(ua, a.screen),
		FirstSeen: ts,
		LastSeen:  ts,
		Actions:   []models.EventEnvelope{},
	}
}

func (a *Aggregator) insertLocked(rec *models.UserRecord) {
	a.users[rec.ID] = rec
	metrics.UsersCreated.Inc()
	metrics.UsersTracked.Set(float64(len(a.users)))
	logging.Info().
		Str("visitor", logging.MaskToken(string(rec.ID))).
		Str("country", rec.Geo.Country).
		Str("device", rec.Device.Type).
		Msg("new visitor")
}

// Track appends one event to the session's visitor and broadcasts it as a
// user_action. The receipt time replaces any client timestamp and a missing
// page becomes "unknown". Nothing is rejected for size or rate.
//
// A session whose record is missing gets one created on the spot, without a
// geo lookup.
func (a *Aggregator) Track(sess *Session, req models.TrackRequest) models.UserAction {
	page := req.Page
	if page == "" {
		page = models.UnknownPage
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.users[sess.Token]
	if !ok {
		logging.Warn().
			Str("visitor", logging.MaskToken(string(sess.Token))).
			Msg("event for visitor without record, creating one")
		rec = a.newRecord(sess.Token, sess.IP, sess.UserAgent, models.UnknownGeo())
		a.insertLocked(rec)
		a.broadcaster.BroadcastToObservers(models.MessageUserUpdate, rec)
	}

	env := models.EventEnvelope{
		Type:      req.Type,
		Data:      models.CompactPayload(req.Data),
		Page:      page,
		Timestamp: a.now(),
	}
	rec.Actions = append(rec.Actions, env)
	rec.LastSeen = env.Timestamp
	metrics.RecordEvent(req.Type)

	action := models.UserAction{UserID: rec.ID, Event: env, TotalActions: len(rec.Actions)}
	a.broadcaster.BroadcastToObservers(models.MessageUserAction, action)
	return action
}

// Disconnect appends a disconnect event and broadcasts it like any other
// action. It reports false, and does nothing, when the record is absent.
// lastSeen keeps the time of the last real activity.
func (a *Aggregator) Disconnect(sess *Session) (models.UserAction, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.users[sess.Token]
	if !ok {
		logging.Debug().
			Str("visitor", logging.MaskToken(string(sess.Token))).
			Msg("disconnect for unknown visitor ignored")
		return models.UserAction{}, false
	}

	env := models.EventEnvelope{Type: models.EventDisconnect, Timestamp: a.now()}
	rec.Actions = append(rec.Actions, env)
	metrics.RecordEvent(models.EventDisconnect)

	action := models.UserAction{UserID: rec.ID, Event: env, TotalActions: len(rec.Actions)}
	a.broadcaster.BroadcastToObservers(models.MessageUserAction, action)
	return action, true
}

// AttachObserver hands fn a copy of the full table while holding the lock, so
// no broadcast can be issued between the copy and whatever fn registers.
func (a *Aggregator) AttachObserver(fn func(table models.UserTable)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.users.Clone())
}

// Snapshot returns a caller-owned copy of the table as a store document.
func (a *Aggregator) Snapshot() *models.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap := models.NewSnapshot()
	snap.Users = a.users.Clone()
	return snap
}

// Record returns a copy of one visitor's record.
func (a *Aggregator) Record(id models.VisitorToken) (*models.UserRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.users[id]
	if !ok {
		return nil, ErrUnknownVisitor
	}
	return rec.Clone(), nil
}

// UserCount returns the number of known visitors.
func (a *Aggregator) UserCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.users)
}
