// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/pathtrace/internal/models"
)

func jsonUnmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type serverSide struct {
	mu     sync.Mutex
	frames []models.Frame
	closes atomic.Int32
	client chan *Client
}

func (s *serverSide) received() []models.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Frame(nil), s.frames...)
}

// setupServer upgrades every request into a Client of the given role.
func setupServer(t *testing.T, hub *Hub, role Role) (*httptest.Server, *serverSide) {
	t.Helper()
	side := &serverSide{client: make(chan *Client, 1)}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		client := NewClient(hub, conn, ClientOptions{
			Role: role,
			OnFrame: func(frame models.Frame) {
				side.mu.Lock()
				side.frames = append(side.frames, frame)
				side.mu.Unlock()
			},
			OnClose: func() { side.closes.Add(1) },
		})
		hub.Add(client)
		client.Start()
		side.client <- client
	}))
	t.Cleanup(server.Close)
	return server, side
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("%s: timed out", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(NewHub(), nil, ClientOptions{})
	if cap(c.send) != DefaultSendBuffer {
		t.Errorf("send buffer = %d", cap(c.send))
	}
	if c.maxMessageSize != DefaultMaxMessageSize {
		t.Errorf("max message size = %d", c.maxMessageSize)
	}
	if c.Role() != RoleSession {
		t.Errorf("default role = %v", c.Role())
	}
	other := NewClient(NewHub(), nil, ClientOptions{})
	if other.ID() <= c.ID() {
		t.Error("client IDs must increase")
	}
}

func TestClient_FramesDeliveredInOrder(t *testing.T) {
	hub := startHub(t)
	server, side := setupServer(t, hub, RoleSession)
	conn := dial(t, server)
	defer conn.Close()

	for i := 0; i < 5; i++ {
		body := `{"type":"track_event","data":{"type":"scroll","data":{"x":0,"y":` + string(rune('0'+i)) + `},"page":"/"}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	// Garbage between valid frames is skipped.
	_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))

	eventually(t, func() bool { return len(side.received()) == 5 }, "frames")
	for i, frame := range side.received() {
		var req models.TrackRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			t.Fatal(err)
		}
		var point models.Point
		_ = json.Unmarshal(req.Data, &point)
		if int(point.Y) != i {
			t.Errorf("frame %d out of order (y=%v)", i, point.Y)
		}
	}
}

func TestClient_PingPong(t *testing.T) {
	hub := startHub(t)
	server, side := setupServer(t, hub, RoleSession)
	conn := dial(t, server)
	defer conn.Close()

	if err := conn.WriteJSON(models.Frame{Type: models.MessagePing}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var pong models.Frame
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatal(err)
	}
	if pong.Type != models.MessagePong {
		t.Errorf("reply = %q, want pong", pong.Type)
	}
	if len(side.received()) != 0 {
		t.Error("ping should not reach OnFrame")
	}
}

func TestClient_OnCloseRunsOnce(t *testing.T) {
	hub := startHub(t)
	server, side := setupServer(t, hub, RoleSession)
	conn := dial(t, server)

	client := <-side.client
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	eventually(t, func() bool { return side.closes.Load() == 1 }, "OnClose")
	eventually(t, func() bool { return hub.ClientCount() == 0 }, "unregister")

	client.closed()
	if side.closes.Load() != 1 {
		t.Errorf("OnClose ran %d times", side.closes.Load())
	}
}

func TestClient_ObserverReceivesBroadcast(t *testing.T) {
	hub := startHub(t)
	server, side := setupServer(t, hub, RoleObserver)
	conn := dial(t, server)
	defer conn.Close()
	<-side.client

	hub.BroadcastToObservers(models.MessageUserAction, models.UserAction{UserID: "visitor-7-7", TotalActions: 1})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var frame models.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	var action models.UserAction
	if err := json.Unmarshal(frame.Data, &action); err != nil {
		t.Fatal(err)
	}
	if frame.Type != models.MessageUserAction || action.UserID != "visitor-7-7" {
		t.Errorf("frame = %s %+v", frame.Type, action)
	}
}

func TestClient_ShutdownClosesConnection(t *testing.T) {
	hub := NewHub()
	server, side := setupServer(t, hub, RoleObserver)
	conn := dial(t, server)
	defer conn.Close()
	<-side.client

	hub.closeAllClients()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Error("expected the connection to be closed")
	}
	eventually(t, func() bool { return side.closes.Load() == 1 }, "OnClose after shutdown")
}
