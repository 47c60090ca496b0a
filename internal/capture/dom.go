// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package capture

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/tomtom215/pathtrace/internal/models"
)

// Node is an element of an in-memory Page. Box is in document coordinates;
// BoundingRect shifts it by the page's scroll offset.
type Node struct {
	Tag      string
	NodeID   string
	Class    string
	Text     string
	Box      models.Rect
	Editable bool

	page *Page
}

func (n *Node) TagName() string     { return strings.ToUpper(n.Tag) }
func (n *Node) ID() string          { return n.NodeID }
func (n *Node) ClassName() string   { return n.Class }
func (n *Node) TextContent() string { return n.Text }
func (n *Node) IsEditable() bool    { return n.Editable }

// BoundingRect returns the node's box relative to the viewport.
func (n *Node) BoundingRect() models.Rect {
	r := n.Box
	if n.page != nil {
		scroll := n.page.ScrollOffset()
		r.Top -= scroll.Y
		r.Left -= scroll.X
	}
	return r
}

func (n *Node) contains(x, y float64) bool {
	r := n.BoundingRect()
	return r.Width > 0 && r.Height > 0 &&
		x >= r.Left && x < r.Left+r.Width &&
		y >= r.Top && y < r.Top+r.Height
}

// Page is a minimal thread-safe Document. Later nodes paint over earlier ones.
type Page struct {
	mu       sync.RWMutex
	location *url.URL
	referrer string
	viewport models.Viewport
	scroll   models.Point
	nodes    []*Node
	active   *Node
}

// NewPage creates a page at rawURL.
func NewPage(rawURL, referrer string, viewport models.Viewport, nodes ...*Node) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	p := &Page{location: u, referrer: referrer, viewport: viewport}
	p.Add(nodes...)
	return p, nil
}

// Add appends nodes on top of the existing ones.
func (p *Page) Add(nodes ...*Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range nodes {
		n.page = p
		p.nodes = append(p.nodes, n)
	}
}

// Navigate changes the location the way history.pushState or a back/forward
// traversal would. Relative references resolve against the current URL.
func (p *Page) Navigate(ref string) error {
	u, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("parse navigation target: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.location = p.location.ResolveReference(u)
	return nil
}

// ScrollTo sets the scroll offset.
func (p *Page) ScrollTo(x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scroll = models.Point{X: x, Y: y}
}

// Focus makes n the active element. nil blurs.
func (p *Page) Focus(n *Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = n
}

func (p *Page) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.location.String()
}

func (p *Page) Path() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.location.Path == "" {
		return "/"
	}
	return p.location.Path
}

func (p *Page) Referrer() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.referrer
}

func (p *Page) Viewport() models.Viewport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.viewport
}

func (p *Page) ScrollOffset() models.Point {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.scroll
}

func (p *Page) Elements() []Element {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Element, len(p.nodes))
	for i, n := range p.nodes {
		out[i] = n
	}
	return out
}

// ElementAt returns the topmost node containing the client point.
func (p *Page) ElementAt(x, y float64) Element {
	p.mu.RLock()
	nodes := p.nodes
	p.mu.RUnlock()
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i].contains(x, y) {
			return nodes[i]
		}
	}
	return nil
}

func (p *Page) ActiveElement() Element {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.active == nil {
		return nil
	}
	return p.active
}
