// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

/*
Package websocket is the server side of the tracking transport and the
observer fan-out.

Every connection is a Client with a role:

  - RoleSession: a tracked browser tab. It sends track_event frames, which the
    client hands to its OnFrame callback in arrival order, and only ever
    receives frames addressed to it (identity, pong).
  - RoleObserver: the admin view. It receives full_user_data once when it is
    added, then every user_update and user_action broadcast.

Broadcasts go to observers only; tracked sessions never see other visitors'
data.

	hub := websocket.NewHub()
	go hub.RunWithContext(ctx)

	client := websocket.NewClient(hub, conn, websocket.ClientOptions{Role: websocket.RoleObserver})
	hub.Add(client, initialFrame)
	client.Start()

	hub.BroadcastToObservers(models.MessageUserAction, action)

Each client runs two goroutines. readPump decodes inbound frames, answers
application pings and calls OnClose exactly once when the connection ends.
writePump drains the send buffer and keeps the connection alive with
protocol pings. An observer whose send buffer is full is dropped rather than
allowed to stall the fan-out.
*/
package websocket
