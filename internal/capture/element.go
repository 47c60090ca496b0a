// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package capture

import (
	"strings"

	"github.com/tomtom215/pathtrace/internal/models"
)

const (
	maxTextLength       = 50
	truncatedTextLength = 47
	ellipsis            = "..."
)

// Element is the view of a DOM node the agent needs.
type Element interface {
	TagName() string
	ID() string
	ClassName() string
	TextContent() string
	BoundingRect() models.Rect // viewport-relative
	IsEditable() bool          // text input, textarea or contenteditable
}

// Document is the view of the page the agent needs.
type Document interface {
	URL() string
	Path() string
	Referrer() string
	Viewport() models.Viewport
	ScrollOffset() models.Point
	Elements() []Element
	ElementAt(x, y float64) Element // topmost element under the point, or nil
	ActiveElement() Element         // focused element, or nil
}

// TruncateText trims s and shortens it to 47 characters plus an ellipsis when
// it is longer than 50 characters. Empty text yields nil.
func TruncateText(s string) *string {
	text := strings.TrimSpace(s)
	if text == "" {
		return nil
	}
	if runes := []rune(text); len(runes) > maxTextLength {
		text = string(runes[:truncatedTextLength]) + ellipsis
	}
	return &text
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// DescribeElement takes a value snapshot of el. A nil element yields the zero snapshot.
func DescribeElement(el Element) models.ElementInfo {
	if el == nil {
		return models.ElementInfo{}
	}
	return models.ElementInfo{
		Tag:      el.TagName(),
		ID:       optional(el.ID()),
		Class:    optional(el.ClassName()),
		Text:     TruncateText(el.TextContent()),
		Position: el.BoundingRect(),
	}
}

// VisibleElements scans every element of doc and keeps those with a positive
// size whose box starts inside the viewport.
func VisibleElements(doc Document) []models.VisibleElement {
	vp := doc.Viewport()
	visible := make([]models.VisibleElement, 0)
	for _, el := range doc.Elements() {
		r := el.BoundingRect()
		if r.Width <= 0 || r.Height <= 0 {
			continue
		}
		if r.Top >= float64(vp.Height) || r.Left >= float64(vp.Width) {
			continue
		}
		visible = append(visible, models.VisibleElement{
			Tag:      el.TagName(),
			ID:       optional(el.ID()),
			Class:    optional(el.ClassName()),
			Position: r,
		})
	}
	return visible
}
