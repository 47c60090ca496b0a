// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/models"
	"github.com/tomtom215/pathtrace/internal/storage"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

const firefoxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0"

var epoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// recordingBroadcaster keeps every broadcast, encoded at call time like the hub does.
type recordingBroadcaster struct {
	mu     sync.Mutex
	frames []models.Frame
}

func (r *recordingBroadcaster) BroadcastToObservers(msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, models.Frame{Type: msgType, Data: raw})
}

func (r *recordingBroadcaster) ofType(msgType string) []models.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Frame
	for _, f := range r.frames {
		if f.Type == msgType {
			out = append(out, f)
		}
	}
	return out
}

type countingGeo struct {
	calls atomic.Int32
}

func (g *countingGeo) Resolve(_ context.Context, ip string) models.Geo {
	g.calls.Add(1)
	if ip == "203.0.113.7" {
		return models.Geo{Country: "Canada", City: "Toronto"}
	}
	return models.UnknownGeo()
}

type fixture struct {
	agg   *Aggregator
	bc    *recordingBroadcaster
	geo   *countingGeo
	clock *quartz.Mock
}

func newFixture(t *testing.T, table models.UserTable) *fixture {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	mClock.Set(epoch).MustWait(ctx)

	f := &fixture{bc: &recordingBroadcaster{}, geo: &countingGeo{}, clock: mClock}
	f.agg = New(table, Options{Broadcaster: f.bc, Geo: f.geo, Clock: mClock})
	return f
}

func (f *fixture) connect(t *testing.T, token models.VisitorToken) *Session {
	t.Helper()
	sess, err := f.agg.Connect(context.Background(), ConnectInfo{
		Token:     token,
		IP:        "203.0.113.7",
		UserAgent: firefoxUA,
	})
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", token, err)
	}
	return sess
}

func TestConnect_CreatesRecordOnce(t *testing.T) {
	f := newFixture(t, nil)

	sess := f.connect(t, "visitor-1-1")
	if !sess.Created {
		t.Error("first Connect should create the record")
	}

	rec, err := f.agg.Record("visitor-1-1")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	want := &models.UserRecord{
		ID:  "visitor-1-1",
		IP:  "203.0.113.7",
		Geo: models.Geo{Country: "Canada", City: "Toronto"},
		Device: models.Device{
			Browser: "Firefox 126.0",
			OS:      rec.Device.OS,
			Type:    "desktop",
			Screen:  models.Screen{Width: 1920, Height: 1080},
		},
		FirstSeen: epoch,
		LastSeen:  epoch,
		Actions:   []models.EventEnvelope{},
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("new record (-want +got):\n%s", diff)
	}

	f.clock.Advance(time.Minute)
	again := f.connect(t, "visitor-1-1")
	if again.Created {
		t.Error("reconnect must not create a second record")
	}
	if f.agg.UserCount() != 1 {
		t.Errorf("UserCount() = %d, want 1", f.agg.UserCount())
	}
	if f.geo.calls.Load() != 1 {
		t.Errorf("geo lookups = %d, want 1", f.geo.calls.Load())
	}

	updates := f.bc.ofType(models.MessageUserUpdate)
	if len(updates) != 2 {
		t.Fatalf("user_update broadcasts = %d, want 2", len(updates))
	}
	var broadcast models.UserRecord
	if err := json.Unmarshal(updates[0].Data, &broadcast); err != nil {
		t.Fatalf("decode user_update: %v", err)
	}
	if broadcast.ID != "visitor-1-1" || !broadcast.FirstSeen.Equal(epoch) {
		t.Errorf("user_update payload = %+v", broadcast)
	}
}

func TestConnect_EmptyToken(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.agg.Connect(context.Background(), ConnectInfo{}); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("Connect() error = %v, want ErrEmptyToken", err)
	}
	if len(f.bc.frames) != 0 {
		t.Error("rejected connect must not broadcast")
	}
}

func TestConnect_KnownVisitorSkipsEnrichment(t *testing.T) {
	table := models.UserTable{
		"visitor-9-9": {ID: "visitor-9-9", IP: "198.51.100.1", Geo: models.UnknownGeo(), FirstSeen: epoch, LastSeen: epoch, Actions: []models.EventEnvelope{}},
	}
	f := newFixture(t, table)

	sess := f.connect(t, "visitor-9-9")
	if sess.Created {
		t.Error("loaded visitor must not be recreated")
	}
	if f.geo.calls.Load() != 0 {
		t.Errorf("geo lookups = %d, want 0", f.geo.calls.Load())
	}
	rec, _ := f.agg.Record("visitor-9-9")
	if rec.IP != "198.51.100.1" {
		t.Errorf("reconnect overwrote stored IP: %q", rec.IP)
	}
}

func TestTrack_AppendsInOrder(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.connect(t, "visitor-1-1")

	const n = 25
	for i := 1; i <= n; i++ {
		f.clock.Advance(time.Second)
		action := f.agg.Track(sess, models.TrackRequest{
			Type: models.EventScroll,
			Data: json.RawMessage(fmt.Sprintf(`{ "x": 0, "y": %d }`, i*10)),
			Page: "/pricing",
		})
		if action.TotalActions != i {
			t.Fatalf("event %d TotalActions = %d", i, action.TotalActions)
		}
		if !action.Event.Timestamp.Equal(epoch.Add(time.Duration(i) * time.Second)) {
			t.Errorf("event %d timestamp = %v", i, action.Event.Timestamp)
		}
	}

	rec, _ := f.agg.Record("visitor-1-1")
	if len(rec.Actions) != n {
		t.Fatalf("log length = %d, want %d", len(rec.Actions), n)
	}
	if got := string(rec.Actions[0].Data); got != `{"x":0,"y":10}` {
		t.Errorf("payload = %s, want compacted", got)
	}
	if !rec.LastSeen.Equal(epoch.Add(n * time.Second)) {
		t.Errorf("LastSeen = %v", rec.LastSeen)
	}

	actions := f.bc.ofType(models.MessageUserAction)
	if len(actions) != n {
		t.Fatalf("user_action broadcasts = %d, want %d", len(actions), n)
	}
	var last models.UserAction
	if err := json.Unmarshal(actions[n-1].Data, &last); err != nil {
		t.Fatal(err)
	}
	if last.UserID != "visitor-1-1" || last.TotalActions != n || last.Event.Page != "/pricing" {
		t.Errorf("last broadcast = %+v", last)
	}
}

func TestTrack_Defaults(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.connect(t, "visitor-1-1")

	action := f.agg.Track(sess, models.TrackRequest{Type: models.EventTabHidden})
	if action.Event.Page != models.UnknownPage {
		t.Errorf("Page = %q, want %q", action.Event.Page, models.UnknownPage)
	}
	if action.Event.Data != nil {
		t.Errorf("Data = %s, want nil", action.Event.Data)
	}

	action = f.agg.Track(sess, models.TrackRequest{Type: "custom_kind", Data: json.RawMessage(`null`)})
	if action.Event.Type != "custom_kind" || action.Event.Data != nil {
		t.Errorf("unknown kinds are kept verbatim: %+v", action.Event)
	}
}

func TestTrack_CreatesMissingRecord(t *testing.T) {
	f := newFixture(t, nil)
	sess := &Session{Token: "visitor-5-5", IP: "203.0.113.7", UserAgent: firefoxUA}

	action := f.agg.Track(sess, models.TrackRequest{Type: models.EventClick, Page: "/"})
	if action.TotalActions != 1 {
		t.Errorf("TotalActions = %d, want 1", action.TotalActions)
	}
	rec, err := f.agg.Record("visitor-5-5")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if rec.Geo != models.UnknownGeo() {
		t.Errorf("defensive record Geo = %+v, want Unknown", rec.Geo)
	}
	if len(f.bc.ofType(models.MessageUserUpdate)) != 1 {
		t.Error("defensive creation should announce the record")
	}
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.connect(t, "visitor-1-1")
	f.agg.Track(sess, models.TrackRequest{Type: models.EventPageView, Page: "/"})

	f.clock.Advance(time.Minute)
	action, ok := f.agg.Disconnect(sess)
	if !ok {
		t.Fatal("Disconnect() = false for known visitor")
	}
	if action.TotalActions != 2 || action.Event.Type != models.EventDisconnect {
		t.Errorf("Disconnect() = %+v", action)
	}
	if action.Event.Page != "" || action.Event.Data != nil {
		t.Errorf("disconnect carries no page or payload: %+v", action.Event)
	}

	rec, _ := f.agg.Record("visitor-1-1")
	if !rec.LastSeen.Equal(epoch) {
		t.Errorf("LastSeen moved on disconnect: %v", rec.LastSeen)
	}
	if len(f.bc.ofType(models.MessageUserAction)) != 2 {
		t.Error("disconnect should be broadcast like any action")
	}

	before := len(f.bc.frames)
	if _, ok := f.agg.Disconnect(&Session{Token: "visitor-0-0"}); ok {
		t.Error("Disconnect() for unknown visitor should report false")
	}
	if len(f.bc.frames) != before {
		t.Error("no-op disconnect must not broadcast")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.connect(t, "visitor-1-1")
	f.agg.Track(sess, models.TrackRequest{Type: models.EventClick, Page: "/"})

	snap := f.agg.Snapshot()
	snap.Users["visitor-1-1"].Actions[0].Page = "/tampered"
	snap.Users["visitor-1-1"].Actions = append(snap.Users["visitor-1-1"].Actions, models.EventEnvelope{})
	delete(snap.Users, "visitor-1-1")

	rec, err := f.agg.Record("visitor-1-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Actions) != 1 || rec.Actions[0].Page != "/" {
		t.Errorf("snapshot mutation leaked into the table: %+v", rec.Actions)
	}
	if snap.Sessions == nil {
		t.Error("Sessions must be an empty array, not null")
	}
}

func TestRecordUnknown(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.agg.Record("nobody"); !errors.Is(err, ErrUnknownVisitor) {
		t.Errorf("Record() error = %v, want ErrUnknownVisitor", err)
	}
}

func TestAttachObserver(t *testing.T) {
	f := newFixture(t, nil)
	f.connect(t, "visitor-1-1")
	f.connect(t, "visitor-2-2")

	var got models.UserTable
	f.agg.AttachObserver(func(table models.UserTable) { got = table })
	if len(got) != 2 {
		t.Fatalf("observer table size = %d, want 2", len(got))
	}
	got["visitor-1-1"].IP = "changed"
	if rec, _ := f.agg.Record("visitor-1-1"); rec.IP == "changed" {
		t.Error("observer copy shares state with the table")
	}
}

func TestConcurrentSessions(t *testing.T) {
	f := newFixture(t, nil)

	const visitors, events = 8, 50
	var wg sync.WaitGroup
	for v := 0; v < visitors; v++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			sess, err := f.agg.Connect(context.Background(), ConnectInfo{Token: models.VisitorToken(fmt.Sprintf("visitor-%d-0", v))})
			if err != nil {
				t.Errorf("Connect() error = %v", err)
				return
			}
			for i := 1; i <= events; i++ {
				if got := f.agg.Track(sess, models.TrackRequest{Type: models.EventMouseMove}); got.TotalActions != i {
					t.Errorf("visitor %d event %d TotalActions = %d", v, i, got.TotalActions)
				}
			}
			f.agg.Disconnect(sess)
		}(v)
	}
	wg.Wait()

	snap := f.agg.Snapshot()
	if len(snap.Users) != visitors {
		t.Fatalf("users = %d, want %d", len(snap.Users), visitors)
	}
	for id, rec := range snap.Users {
		if len(rec.Actions) != events+1 {
			t.Errorf("%s log length = %d, want %d", id, len(rec.Actions), events+1)
		}
		if last := rec.Actions[len(rec.Actions)-1]; last.Type != models.EventDisconnect {
			t.Errorf("%s last event = %s, want disconnect", id, last.Type)
		}
	}
}

func TestCheckpointReflectsAppendedEvents(t *testing.T) {
	f := newFixture(t, nil)
	store := storage.NewFileStore(filepath.Join(t.TempDir(), "database.json"))
	cp := storage.NewCheckpointer(store, f.agg, 30*time.Second)

	sess := f.connect(t, "visitor-1-1")
	for i := 0; i < 3; i++ {
		f.agg.Track(sess, models.TrackRequest{Type: models.EventClick, Page: "/", Data: json.RawMessage(`{"position":{"x":1,"y":2}}`)})
	}
	if err := cp.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	// Events after the checkpoint are the ones a crash would lose.
	f.agg.Track(sess, models.TrackRequest{Type: models.EventPageLeave, Page: "/"})

	reloaded := storage.LoadOrEmpty(context.Background(), store)
	if got := len(reloaded.Users["visitor-1-1"].Actions); got != 3 {
		t.Errorf("reloaded log length = %d, want 3", got)
	}

	if err := cp.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	reloaded = storage.LoadOrEmpty(context.Background(), store)
	if diff := cmp.Diff(f.agg.Snapshot(), reloaded); diff != "" {
		t.Errorf("reloaded table differs (-live +reloaded):\n%s", diff)
	}

	// A restarted aggregator continues the same log.
	restarted := New(reloaded.Users, Options{Clock: f.clock})
	next := restarted.Track(&Session{Token: "visitor-1-1"}, models.TrackRequest{Type: models.EventScroll})
	if next.TotalActions != 5 {
		t.Errorf("TotalActions after restart = %d, want 5", next.TotalActions)
	}
}
