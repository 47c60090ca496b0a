// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

// Package models defines the data shared by the capture agent, the transport,
// the session aggregator and the durable store: event envelopes and their
// payloads, user records, the user table and the wire messages.
//
// JSON field names are part of the external contract. Observers and the
// analysis collaborator read camelCase keys (userId, totalActions, firstSeen),
// and the store document is {"users": {...}, "sessions": []}.
package models
