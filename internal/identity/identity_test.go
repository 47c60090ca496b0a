// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package identity

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/tomtom215/pathtrace/internal/models"
)

func fixedMinter(t *testing.T, at time.Time, suffix int) (*Minter, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(at)
	return NewMinter(clock, WithRandom(func(int) int { return suffix })), clock
}

func TestMinter_Mint(t *testing.T) {
	m, _ := fixedMinter(t, time.UnixMilli(1718000000123), 417)
	got := m.Mint()
	if got != "visitor-1718000000123-417" {
		t.Errorf("Mint() = %q", got)
	}
	if !IsWellFormed(got) {
		t.Errorf("%q should be well formed", got)
	}
}

func TestMinter_RandomRange(t *testing.T) {
	var seen int
	m := NewMinter(nil, WithRandom(func(n int) int {
		seen = n
		return n - 1
	}))
	m.Mint()
	if seen != 1000 {
		t.Errorf("random span = %d, want 1000", seen)
	}
}

func TestIsWellFormed(t *testing.T) {
	tests := []struct {
		token models.VisitorToken
		want  bool
	}{
		{"visitor-1718000000000-0", true},
		{"visitor-1718000000000-999", true},
		{"visitor-1718000000000-1000", false},
		{"user-1718000000000-5", false},
		{"visitor-abc-5", false},
		{"visitor-17", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsWellFormed(tt.token); got != tt.want {
			t.Errorf("IsWellFormed(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestParseToken(t *testing.T) {
	tests := []struct {
		name       string
		credential string
		want       models.VisitorToken
		wantErr    bool
	}{
		{"only cookie", "tracking_id=visitor-1-2", "visitor-1-2", false},
		{"among others", "theme=dark; tracking_id=visitor-9-9; lang=en", "visitor-9-9", false},
		{"quoted", `tracking_id="visitor-3-3"`, "visitor-3-3", false},
		{"malformed neighbour", "garbage; tracking_id=visitor-4-4", "visitor-4-4", false},
		{"prefix collision", "xtracking_id=visitor-1-1", "", true},
		{"empty value", "tracking_id=", "", true},
		{"empty header", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseToken(tt.credential, DefaultCookieName)
			if tt.wantErr {
				if !errors.Is(err, ErrNoToken) {
					t.Errorf("err = %v, want ErrNoToken", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	m, _ := fixedMinter(t, time.UnixMilli(5000), 7)
	r := NewResolver(Config{}, m)

	existing := r.Resolve("tracking_id=visitor-1-1")
	if existing.Minted || existing.Token != "visitor-1-1" {
		t.Errorf("existing resolution = %+v", existing)
	}

	fresh := r.Resolve("theme=dark")
	if !fresh.Minted {
		t.Error("missing token should be minted")
	}
	if fresh.Token != "visitor-5000-7" {
		t.Errorf("minted token = %q", fresh.Token)
	}
}

func TestResolver_Cookie(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, _ := fixedMinter(t, now, 1)
	r := NewResolver(Config{CookieName: "vid"}, m)

	c := r.Cookie("visitor-1-1")
	if c.Name != "vid" || c.Value != "visitor-1-1" || c.Path != "/" {
		t.Errorf("cookie = %+v", c)
	}
	if c.MaxAge != 2592000 {
		t.Errorf("MaxAge = %d, want 30 days", c.MaxAge)
	}
	if !c.Expires.Equal(now.Add(30 * 24 * time.Hour)) {
		t.Errorf("Expires = %v", c.Expires)
	}
}

type memoryStore struct{ cookies []*http.Cookie }

func (s *memoryStore) Cookies() []*http.Cookie  { return s.cookies }
func (s *memoryStore) SetCookie(c *http.Cookie) { s.cookies = append(s.cookies, c) }

func TestResolver_EnsureToken(t *testing.T) {
	m, _ := fixedMinter(t, time.UnixMilli(42), 3)
	r := NewResolver(Config{}, m)
	store := &memoryStore{}

	first, minted := r.EnsureToken(store)
	if !minted || first != "visitor-42-3" {
		t.Fatalf("first = %q minted=%v", first, minted)
	}
	second, minted := r.EnsureToken(store)
	if minted || second != first {
		t.Errorf("second = %q minted=%v, want stable token", second, minted)
	}

	// The stored cookie is what the server will later see.
	if got := r.Resolve(store.cookies[0].String()); got.Token != first || got.Minted {
		t.Errorf("server resolution of stored cookie = %+v", got)
	}
}
