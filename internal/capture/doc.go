// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

// Package capture implements the client-side capture policy: which raw
// browser inputs become tracked events, and when.
//
// The Agent is driven by a host that forwards DOM and lifecycle callbacks
// (scroll, mousemove, click, keydown, visibilitychange, beforeunload,
// popstate) and exposes the document through the Document interface. Policy:
//
//   - page_view on Start and whenever a history navigation changes the path
//   - scroll only when the offset differs from the last emitted offset
//   - mouse_move when the hovered element's tag or id changes, or as a
//     heartbeat after more than 10s on the same element
//   - click unconditionally
//   - keystroke batched per editable element, flushed after 4s of idle typing
//
// Page is an in-memory Document used by tests and the visitor simulator.
package capture
