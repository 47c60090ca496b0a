// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// EventKind names a tracked behavior.
type EventKind string

const (
	EventPageView   EventKind = "page_view"
	EventScroll     EventKind = "scroll"
	EventMouseMove  EventKind = "mouse_move"
	EventClick      EventKind = "click"
	EventTabHidden  EventKind = "tab_hidden"
	EventTabVisible EventKind = "tab_visible"
	EventPageLeave  EventKind = "page_leave"
	EventKeystroke  EventKind = "keystroke"
	EventDisconnect EventKind = "disconnect"
)

// UnknownPage is recorded when a client omits the page path.
const UnknownPage = "unknown"

// EventKinds lists every kind in declaration order.
var EventKinds = []EventKind{
	EventPageView, EventScroll, EventMouseMove, EventClick,
	EventTabHidden, EventTabVisible, EventPageLeave, EventKeystroke, EventDisconnect,
}

// Known reports whether k is one of the declared kinds. Unknown kinds are still
// accepted by the aggregator; this only bounds metric label cardinality.
func (k EventKind) Known() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// TrackRequest is the body of a client track_event message. Data is opaque to
// the transport and the aggregator.
type TrackRequest struct {
	Type EventKind       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Page string          `json:"page,omitempty"`
}

// UnmarshalJSON accepts any JSON value for page. A page that is not a string
// decodes as empty, which the aggregator records as UnknownPage.
func (r *TrackRequest) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type EventKind       `json:"type"`
		Data json.RawMessage `json:"data"`
		Page json.RawMessage `json:"page"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.Type = raw.Type
	r.Data = raw.Data
	r.Page = ""
	if len(raw.Page) > 0 {
		var page string
		if err := json.Unmarshal(raw.Page, &page); err == nil {
			r.Page = page
		}
	}
	return nil
}

// EventEnvelope is one appended entry of a user's action log. Envelopes are
// never modified after they are appended.
type EventEnvelope struct {
	Type      EventKind       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Page      string          `json:"page,omitempty"` // empty only for disconnect
	Timestamp time.Time       `json:"timestamp"`      // server receipt time
}

// Rect is an element's bounding box relative to the viewport.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementInfo is a value snapshot of a DOM node taken at capture time.
type ElementInfo struct {
	Tag      string  `json:"tag"`
	ID       *string `json:"id"`
	Class    *string `json:"class"`
	Text     *string `json:"text"` // at most 50 characters, nil when empty
	Position Rect    `json:"position"`
}

// SameTarget reports whether two snapshots refer to the same element for
// mouse throttling purposes: equal tag and equal id.
func (e *ElementInfo) SameTarget(other *ElementInfo) bool {
	if e == nil || other == nil {
		return false
	}
	if e.Tag != other.Tag {
		return false
	}
	if (e.ID == nil) != (other.ID == nil) {
		return false
	}
	return e.ID == nil || *e.ID == *other.ID
}

// VisibleElement is an entry of the page_view element snapshot.
type VisibleElement struct {
	Tag      string `json:"tag"`
	ID       *string `json:"id"`
	Class    *string `json:"class"`
	Position Rect    `json:"position"`
}

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PageViewData is the page_view payload. Referrer is set on the initial load only.
type PageViewData struct {
	Referrer *string          `json:"referrer,omitempty"`
	URL      string           `json:"url"`
	Elements []VisibleElement `json:"elements"`
	Viewport Viewport         `json:"viewport"`
	Scroll   Point            `json:"scroll"`
}

// ScrollData is the scroll payload.
type ScrollData = Point

type MouseMoveData struct {
	X        float64     `json:"x"`
	Y        float64     `json:"y"`
	Element  ElementInfo `json:"element"`
	Viewport Viewport    `json:"viewport"`
}

type ClickData struct {
	Element  ElementInfo `json:"element"`
	Position Point       `json:"position"`
}

type KeystrokeData struct {
	Value   string       `json:"value"`
	Element *ElementInfo `json:"element"`
}
