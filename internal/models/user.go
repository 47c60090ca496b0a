// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package models

import (
	"bytes"
	"time"

	"github.com/goccy/go-json"
)

// VisitorToken is the durable per-browser identifier, e.g. "visitor-1718000000000-417".
type VisitorToken string

// Unknown is used for any geo or device field that could not be resolved.
const Unknown = "Unknown"

type Geo struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

// UnknownGeo is the lookup result for private addresses and failed lookups.
func UnknownGeo() Geo {
	return Geo{Country: Unknown, City: Unknown}
}

type Screen struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Device struct {
	Browser string `json:"browser"` // "<name> <version>"
	OS      string `json:"os"`      // "<name> <version>"
	Type    string `json:"type"`    // mobile, tablet or desktop
	Screen  Screen `json:"screen"`
}

// UserRecord is the aggregated state of one visitor.
type UserRecord struct {
	ID        VisitorToken    `json:"id"`
	IP        string          `json:"ip"`
	Geo       Geo             `json:"geo"`
	Device    Device          `json:"device"`
	FirstSeen time.Time       `json:"firstSeen"`
	LastSeen  time.Time       `json:"lastSeen"`
	TotalTime int64           `json:"totalTime"` // carried through, not recomputed
	Actions   []EventEnvelope `json:"actions"`
}

// Clone returns a copy that shares no mutable state with u. Envelopes are
// immutable, so only the slice itself is copied.
func (u *UserRecord) Clone() *UserRecord {
	c := *u
	c.Actions = make([]EventEnvelope, len(u.Actions))
	copy(c.Actions, u.Actions)
	return &c
}

// UserTable maps each visitor token to its record.
type UserTable map[VisitorToken]*UserRecord

// Clone deep-copies the table.
func (t UserTable) Clone() UserTable {
	c := make(UserTable, len(t))
	for id, rec := range t {
		c[id] = rec.Clone()
	}
	return c
}

// Snapshot is the persisted and served document. Sessions is reserved and always empty.
type Snapshot struct {
	Users    UserTable         `json:"users"`
	Sessions []json.RawMessage `json:"sessions"`
}

// NewSnapshot returns an empty document.
func NewSnapshot() *Snapshot {
	return &Snapshot{Users: make(UserTable), Sessions: []json.RawMessage{}}
}

// Normalize repairs a decoded document so that it compares equal to the table
// that produced it: nil collections become empty, records missing an id take
// their map key, timestamps move to UTC and payloads are compacted.
func (s *Snapshot) Normalize() {
	if s.Users == nil {
		s.Users = make(UserTable)
	}
	if s.Sessions == nil {
		s.Sessions = []json.RawMessage{}
	}
	for id, rec := range s.Users {
		if rec == nil {
			delete(s.Users, id)
			continue
		}
		if rec.ID == "" {
			rec.ID = id
		}
		if rec.Actions == nil {
			rec.Actions = []EventEnvelope{}
		}
		rec.FirstSeen = rec.FirstSeen.UTC()
		rec.LastSeen = rec.LastSeen.UTC()
		for i := range rec.Actions {
			rec.Actions[i].Timestamp = rec.Actions[i].Timestamp.UTC()
			rec.Actions[i].Data = CompactPayload(rec.Actions[i].Data)
		}
	}
}

// CompactPayload strips insignificant whitespace from a raw payload and maps
// an explicit JSON null to nil. Invalid JSON is returned unchanged.
func CompactPayload(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	if buf.String() == "null" {
		return nil
	}
	return json.RawMessage(buf.Bytes())
}
