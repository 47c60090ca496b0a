// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package capture

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/quartz"
	"github.com/goccy/go-json"

	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/models"
)

const (
	// MouseHeartbeat is the longest a hovered element stays silent.
	MouseHeartbeat = 10 * time.Second

	// KeystrokeIdle is the typing pause after which the buffer is flushed.
	KeystrokeIdle = 4 * time.Second
)

// Emitter delivers a tracked event to the server. Delivery is best effort.
type Emitter interface {
	Emit(ctx context.Context, req models.TrackRequest) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, req models.TrackRequest) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, req models.TrackRequest) error {
	return f(ctx, req)
}

// Option configures an Agent.
type Option func(*Agent)

// WithClock sets the clock used for throttling and the idle timer.
func WithClock(clock quartz.Clock) Option {
	return func(a *Agent) { a.clock = clock }
}

// Agent applies the capture policy for one tab. All handlers are safe for
// concurrent use; events are emitted in handler order.
type Agent struct {
	doc     Document
	emitter Emitter
	clock   quartz.Clock

	mu      sync.Mutex
	ctx     context.Context
	started bool
	closed  bool
	left    bool

	currentPath string

	lastMouseAt      time.Time
	lastMouseElement *models.ElementInfo

	lastScroll models.Point

	buffer  []rune
	focused *models.ElementInfo
	idle    *debouncer
}

// NewAgent creates an agent for doc that sends events through emitter.
func NewAgent(doc Document, emitter Emitter, opts ...Option) *Agent {
	a := &Agent{doc: doc, emitter: emitter, clock: quartz.NewReal(), ctx: context.Background()}
	for _, opt := range opts {
		opt(a)
	}
	a.idle = newDebouncer(a.clock, KeystrokeIdle, a.flushOnIdle)
	return a
}

// Start announces the initial page view, including the referrer. ctx is used
// for every later emit, including timer-driven keystroke flushes.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("capture: agent already started")
	}
	a.started = true
	a.ctx = ctx
	a.currentPath = a.doc.Path()
	a.lastMouseAt = a.clock.Now()
	a.lastScroll = a.doc.ScrollOffset()

	referrer := a.doc.Referrer()
	return a.emitPageViewLocked(&referrer)
}

// CurrentPath returns the tracked page path.
func (a *Agent) CurrentPath() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentPath
}

// HandleScroll reports a scroll callback.
func (a *Agent) HandleScroll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.activeLocked() {
		return
	}
	offset := a.doc.ScrollOffset()
	if offset == a.lastScroll {
		return
	}
	a.lastScroll = offset
	a.emitLocked(models.EventScroll, models.ScrollData{X: offset.X, Y: offset.Y})
}

// HandleMouseMove reports the pointer at client coordinates (x, y).
func (a *Agent) HandleMouseMove(x, y float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.activeLocked() {
		return
	}
	el := a.doc.ElementAt(x, y)
	if el == nil {
		return
	}
	info := DescribeElement(el)
	now := a.clock.Now()

	changed := a.lastMouseElement == nil || !info.SameTarget(a.lastMouseElement)
	if !changed && now.Sub(a.lastMouseAt) <= MouseHeartbeat {
		return
	}
	a.lastMouseElement = &info
	a.lastMouseAt = now
	a.emitLocked(models.EventMouseMove, models.MouseMoveData{
		X:        x,
		Y:        y,
		Element:  info,
		Viewport: a.doc.Viewport(),
	})
}

// HandleClick reports a click on target at client coordinates (x, y).
func (a *Agent) HandleClick(target Element, x, y float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.activeLocked() {
		return
	}
	a.emitLocked(models.EventClick, models.ClickData{
		Element:  DescribeElement(target),
		Position: models.Point{X: x, Y: y},
	})
}

// HandleVisibilityChange reports a visibility transition.
func (a *Agent) HandleVisibilityChange(hidden bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.activeLocked() {
		return
	}
	kind := models.EventTabVisible
	if hidden {
		kind = models.EventTabHidden
	}
	a.emitLocked(kind, nil)
}

// HandleBeforeUnload flushes pending keystrokes and emits page_leave once.
func (a *Agent) HandleBeforeUnload() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.activeLocked() || a.left {
		return
	}
	a.left = true
	a.idle.Stop()
	a.flushLocked()
	a.emitLocked(models.EventPageLeave, nil)
}

// HandlePopState reports a history navigation. A page_view is emitted only
// when the path actually changed.
func (a *Agent) HandlePopState() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.activeLocked() {
		return
	}
	path := a.doc.Path()
	if path == a.currentPath {
		return
	}
	a.currentPath = path
	if err := a.emitPageViewLocked(nil); err != nil {
		logging.Debug().Err(err).Msg("page_view after navigation not delivered")
	}
}

// HandleKeyDown reports a key press using DOM KeyboardEvent.key names.
// Keys are buffered only while an editable element has focus.
func (a *Agent) HandleKeyDown(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.activeLocked() {
		return
	}
	active := a.doc.ActiveElement()
	if active == nil || !active.IsEditable() {
		return
	}

	switch {
	case key == "Enter":
		a.buffer = append(a.buffer, '\n')
	case key == "Backspace":
		if n := len(a.buffer); n > 0 {
			a.buffer = a.buffer[:n-1]
		}
	case utf8.RuneCountInString(key) == 1:
		r, _ := utf8.DecodeRuneInString(key)
		a.buffer = append(a.buffer, r)
	default:
		return
	}

	info := DescribeElement(active)
	a.focused = &info
	a.idle.Reset()
}

// Buffered returns the keystroke text not yet flushed.
func (a *Agent) Buffered() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return string(a.buffer)
}

// Flush emits buffered keystrokes immediately and cancels the idle timer.
func (a *Agent) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.idle.Stop()
	a.flushLocked()
}

// Close cancels the idle timer and discards any buffered text. Handlers are
// no-ops afterwards.
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.idle.Stop()
	a.buffer = nil
}

func (a *Agent) flushOnIdle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	// A key pressed after the timer fired has already scheduled a newer flush.
	if a.closed || a.idle.Pending() {
		return
	}
	a.flushLocked()
}

func (a *Agent) flushLocked() {
	if len(a.buffer) == 0 {
		return
	}
	element := a.focused
	if active := a.doc.ActiveElement(); active != nil && active.IsEditable() {
		info := DescribeElement(active)
		element = &info
	}
	a.emitLocked(models.EventKeystroke, models.KeystrokeData{Value: string(a.buffer), Element: element})
	a.buffer = nil
}

func (a *Agent) activeLocked() bool {
	return a.started && !a.closed
}

func (a *Agent) emitPageViewLocked(referrer *string) error {
	return a.sendLocked(models.EventPageView, models.PageViewData{
		Referrer: referrer,
		URL:      a.doc.URL(),
		Elements: VisibleElements(a.doc),
		Viewport: a.doc.Viewport(),
		Scroll:   a.doc.ScrollOffset(),
	})
}

// emitLocked sends and logs failures; capture never retries.
func (a *Agent) emitLocked(kind models.EventKind, payload any) {
	if err := a.sendLocked(kind, payload); err != nil {
		logging.Debug().Err(err).Str("type", string(kind)).Msg("Tracked event not delivered")
	}
}

func (a *Agent) sendLocked(kind models.EventKind, payload any) error {
	req := models.TrackRequest{Type: kind, Page: a.currentPath}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", kind, err)
		}
		req.Data = data
	}
	return a.emitter.Emit(a.ctx, req)
}
