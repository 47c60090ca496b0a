// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package capture

import (
	"strings"
	"testing"

	"github.com/tomtom215/pathtrace/internal/models"
)

func TestTruncateText(t *testing.T) {
	sixty := strings.Repeat("a", 60)
	fifty := strings.Repeat("b", 50)

	tests := []struct {
		name string
		in   string
		want *string
	}{
		{"long text truncated", sixty, ptr(strings.Repeat("a", 47) + "...")},
		{"exactly fifty kept", fifty, ptr(fifty)},
		{"short kept", "Buy now", ptr("Buy now")},
		{"trimmed", "  Sign in \n", ptr("Sign in")},
		{"empty is null", "", nil},
		{"whitespace is null", " \t\n ", nil},
		{"multibyte counted by character", strings.Repeat("é", 51), ptr(strings.Repeat("é", 47) + "...")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateText(tt.in)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("TruncateText = %q, want nil", *got)
			case tt.want != nil && got == nil:
				t.Errorf("TruncateText = nil, want %q", *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("TruncateText = %q, want %q", *got, *tt.want)
			}
		})
	}

	if got := TruncateText(sixty); len([]rune(*got)) != 50 {
		t.Errorf("truncated length = %d, want 50", len([]rune(*got)))
	}
}

func TestDescribeElement(t *testing.T) {
	n := &Node{Tag: "button", NodeID: "buy", Class: "btn primary", Text: "Buy", Box: models.Rect{Top: 10, Left: 20, Width: 100, Height: 30}}
	info := DescribeElement(n)

	if info.Tag != "BUTTON" {
		t.Errorf("Tag = %q", info.Tag)
	}
	if info.ID == nil || *info.ID != "buy" {
		t.Errorf("ID = %v", info.ID)
	}
	if info.Class == nil || *info.Class != "btn primary" {
		t.Errorf("Class = %v", info.Class)
	}
	if info.Position != n.Box {
		t.Errorf("Position = %+v", info.Position)
	}

	bare := DescribeElement(&Node{Tag: "div"})
	if bare.ID != nil || bare.Class != nil || bare.Text != nil {
		t.Errorf("empty attributes should be nil: %+v", bare)
	}

	if zero := DescribeElement(nil); zero.Tag != "" {
		t.Errorf("nil element = %+v", zero)
	}
}

func TestVisibleElements(t *testing.T) {
	page, err := NewPage("https://shop.example/", "", models.Viewport{Width: 800, Height: 600},
		&Node{Tag: "header", NodeID: "top", Box: models.Rect{Top: 0, Left: 0, Width: 800, Height: 80}},
		&Node{Tag: "span", NodeID: "hidden", Box: models.Rect{Top: 100, Left: 0, Width: 0, Height: 20}},
		&Node{Tag: "span", NodeID: "flat", Box: models.Rect{Top: 100, Left: 0, Width: 20, Height: 0}},
		&Node{Tag: "footer", NodeID: "below", Box: models.Rect{Top: 600, Left: 0, Width: 800, Height: 50}},
		&Node{Tag: "aside", NodeID: "right", Box: models.Rect{Top: 10, Left: 800, Width: 100, Height: 50}},
		&Node{Tag: "main", NodeID: "body", Class: "content", Box: models.Rect{Top: 80, Left: 0, Width: 800, Height: 2000}},
	)
	if err != nil {
		t.Fatal(err)
	}

	ids := func(els []models.VisibleElement) []string {
		out := make([]string, len(els))
		for i, e := range els {
			if e.ID != nil {
				out[i] = *e.ID
			}
		}
		return out
	}

	visible := VisibleElements(page)
	got := ids(visible)
	if strings.Join(got, ",") != "top,body" {
		t.Fatalf("visible = %v, want [top body]", got)
	}
	if visible[0].Class != nil {
		t.Errorf("header class = %q, want nil", *visible[0].Class)
	}
	if c := visible[1].Class; c == nil || *c != "content" {
		t.Errorf("body class = %v, want content", c)
	}

	// Scrolling moves the footer into view.
	page.ScrollTo(0, 100)
	got = ids(VisibleElements(page))
	if strings.Join(got, ",") != "top,below,body" {
		t.Errorf("visible after scroll = %v, want [top below body]", got)
	}
}

func TestPage_ElementAtTopmost(t *testing.T) {
	page, _ := NewPage("https://shop.example/", "", models.Viewport{Width: 800, Height: 600},
		&Node{Tag: "main", NodeID: "body", Box: models.Rect{Width: 800, Height: 600}},
		&Node{Tag: "button", NodeID: "buy", Box: models.Rect{Top: 100, Left: 100, Width: 50, Height: 20}},
	)
	if el := page.ElementAt(110, 105); el == nil || el.ID() != "buy" {
		t.Errorf("ElementAt over button = %v", el)
	}
	if el := page.ElementAt(10, 10); el == nil || el.ID() != "body" {
		t.Errorf("ElementAt over body = %v", el)
	}
	if el := page.ElementAt(900, 10); el != nil {
		t.Errorf("ElementAt outside = %v", el)
	}
}

func TestPage_Navigate(t *testing.T) {
	page, _ := NewPage("https://shop.example/products?id=3", "", models.Viewport{})
	if err := page.Navigate("/cart"); err != nil {
		t.Fatal(err)
	}
	if page.Path() != "/cart" || page.URL() != "https://shop.example/cart" {
		t.Errorf("after navigate: %s %s", page.Path(), page.URL())
	}
}

func ptr(s string) *string { return &s }
