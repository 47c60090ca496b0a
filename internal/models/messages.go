// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package models

import "github.com/goccy/go-json"

// Wire message types.
const (
	MessageTrackEvent   = "track_event"    // client -> server
	MessageFullUserData = "full_user_data" // server -> observer, once on connect
	MessageUserUpdate   = "user_update"    // server -> observers
	MessageUserAction   = "user_action"    // server -> observers
	MessageIdentity     = "identity"       // server -> session, when the server minted the token
	MessagePing         = "ping"
	MessagePong         = "pong"
)

// Frame is the websocket message envelope in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UserAction is broadcast to observers after every append.
type UserAction struct {
	UserID       VisitorToken  `json:"userId"`
	Event        EventEnvelope `json:"event"`
	TotalActions int           `json:"totalActions"`
}

// IdentityNotice tells a session which token the server assigned it.
type IdentityNotice struct {
	Token  VisitorToken `json:"token"`
	Minted bool         `json:"minted"`
}
