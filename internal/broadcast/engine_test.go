package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mredag/eformLockerRoom-sub013/internal/events"
	"github.com/mredag/eformLockerRoom-sub013/internal/eventstore"
	"github.com/mredag/eformLockerRoom-sub013/internal/metrics"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
	"github.com/mredag/eformLockerRoom-sub013/internal/session"
)

// fakeSocket records frames in memory.
type fakeSocket struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	sendErr error
}

func (s *fakeSocket) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSocketClosed
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSocket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// decoded returns every recorded frame as a generic map.
func (s *fakeSocket) decoded(t *testing.T) []map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.frames))
	for _, f := range s.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("frame is not JSON: %s", f)
		}
		out = append(out, m)
	}
	return out
}

// ofType returns the recorded frames with the given type.
func (s *fakeSocket) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range s.decoded(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeSocket) reset() {
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, mutate func(*Options)) *Engine {
	t.Helper()
	opts := Options{
		Store:   eventstore.New(eventstore.Options{}),
		Metrics: metrics.New(prometheus.NewRegistry()),
		Logger:  discardLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	e := NewEngine(opts)
	for _, ns := range model.DefaultNamespaces {
		e.CreateNamespace(ns, false)
	}
	t.Cleanup(e.Shutdown)
	return e
}

func mustConnect(t *testing.T, e *Engine, ns string) (string, *fakeSocket) {
	t.Helper()
	s := &fakeSocket{}
	id, err := e.Connect(context.Background(), s, ns, "")
	if err != nil {
		t.Fatalf("Connect(%s): %v", ns, err)
	}
	return id, s
}

func lockerData(id string) events.LockerStateChanged {
	return events.LockerStateChanged{
		LockerID: id, KioskID: "kiosk-1",
		OldState: model.LockerClosed, NewState: model.LockerOpen,
	}
}

func TestConnect_SendsAck(t *testing.T) {
	e := newTestEngine(t, nil)
	id, s := mustConnect(t, e, model.NamespaceLockers)

	acks := s.ofType(t, model.FrameConnectionEstablished)
	if len(acks) != 1 {
		t.Fatalf("expected 1 ack frame, got %d", len(acks))
	}
	data := acks[0]["data"].(map[string]any)
	if data["connectionId"] != id || data["namespace"] != model.NamespaceLockers {
		t.Errorf("unexpected ack data: %v", data)
	}
	if got := e.Statistics().Namespaces[model.NamespaceLockers].Connections; got != 1 {
		t.Errorf("namespace connections = %d, want 1", got)
	}
}

func TestConnect_UnknownNamespaceRejected(t *testing.T) {
	e := newTestEngine(t, nil)
	s := &fakeSocket{}

	_, err := e.Connect(context.Background(), s, "/ws/nope", "")
	var re *model.RejectedError
	if !errors.As(err, &re) || re.Reason != model.RejectUnknownNamespace {
		t.Fatalf("expected unknown namespace rejection, got %v", err)
	}
	if !s.Closed() {
		t.Error("rejected socket must be closed")
	}
	if e.Statistics().TotalConnections != 0 {
		t.Error("rejected connection was registered")
	}
}

func TestConnect_RequireAuth(t *testing.T) {
	e := newTestEngine(t, func(o *Options) {
		o.Validator = session.NewTokenValidator("good-session")
	})
	e.CreateNamespace("/ws/staff", true)
	ctx := context.Background()

	for _, sid := range []string{"", "bad-session"} {
		s := &fakeSocket{}
		_, err := e.Connect(ctx, s, "/ws/staff", sid)
		var re *model.RejectedError
		if !errors.As(err, &re) || re.Reason != model.RejectUnauthenticated {
			t.Errorf("session %q: expected unauthenticated rejection, got %v", sid, err)
		}
		if !s.Closed() {
			t.Errorf("session %q: socket not closed", sid)
		}
	}

	s := &fakeSocket{}
	if _, err := e.Connect(ctx, s, "/ws/staff", "good-session"); err != nil {
		t.Fatalf("valid session rejected: %v", err)
	}
	ack := s.ofType(t, model.FrameConnectionEstablished)[0]["data"].(map[string]any)
	if ack["authenticated"] != true {
		t.Errorf("authenticated = %v, want true", ack["authenticated"])
	}
	if e.Statistics().TotalConnections != 1 {
		t.Errorf("expected 1 connection")
	}
}

func TestConnect_ValidatorFailureIsUpstream(t *testing.T) {
	e := newTestEngine(t, func(o *Options) {
		o.Validator = session.ValidatorFunc(func(context.Context, string) (bool, error) {
			return false, errors.New("redis down")
		})
	})
	e.CreateNamespace("/ws/staff", true)

	s := &fakeSocket{}
	_, err := e.Connect(context.Background(), s, "/ws/staff", "abc")
	var ue *model.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !s.Closed() {
		t.Error("socket not closed after upstream failure")
	}

	// Open namespaces do not depend on the validator.
	if _, err := e.Connect(context.Background(), &fakeSocket{}, model.NamespaceLockers, "abc"); err != nil {
		t.Errorf("open namespace connect failed: %v", err)
	}
}

func TestConnect_OpenNamespaceSkipsValidator(t *testing.T) {
	var calls atomic.Int32
	e := newTestEngine(t, func(o *Options) {
		o.Validator = session.ValidatorFunc(func(context.Context, string) (bool, error) {
			calls.Add(1)
			return false, errors.New("redis down")
		})
	})

	s := &fakeSocket{}
	if _, err := e.Connect(context.Background(), s, model.NamespaceLockers, "stale-cookie"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("validator called %d times for an open namespace, want 0", n)
	}
	ack := s.ofType(t, model.FrameConnectionEstablished)[0]["data"].(map[string]any)
	if ack["authenticated"] != false {
		t.Errorf("authenticated = %v, want false", ack["authenticated"])
	}
}

func TestCreateNamespace_Idempotent(t *testing.T) {
	e := newTestEngine(t, nil)
	id, _ := mustConnect(t, e, model.NamespaceHelp)
	e.JoinRoom(id, "kiosk-1")

	e.CreateNamespace(model.NamespaceHelp, false)
	st := e.Statistics().Namespaces[model.NamespaceHelp]
	if st.Connections != 1 || st.Rooms["kiosk-1"] != 1 {
		t.Errorf("re-creating namespace lost state: %+v", st)
	}
	if got := len(e.Namespaces()); got != 3 {
		t.Errorf("Namespaces() = %d entries, want 3", got)
	}
}

func TestRoomScenario_FallbackAndTargeting(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	a, sa := mustConnect(t, e, model.NamespaceLockers)
	_, sb := mustConnect(t, e, model.NamespaceLockers)
	if !e.JoinRoom(a, "zone_a") {
		t.Fatal("JoinRoom failed")
	}
	if got := sa.ofType(t, model.FrameRoomJoined); len(got) != 1 {
		t.Fatalf("expected room_joined confirmation, got %d", len(got))
	}
	sa.reset()
	sb.reset()

	if _, err := e.EmitLockerStateChanged(ctx, lockerData("locker-1"), "zone_a"); err != nil {
		t.Fatalf("emit to zone_a: %v", err)
	}
	if got := len(sa.ofType(t, string(model.EventLockerStateChanged))); got != 1 {
		t.Errorf("A received %d zone_a events, want 1", got)
	}
	if got := len(sb.ofType(t, string(model.EventLockerStateChanged))); got != 0 {
		t.Errorf("B received %d zone_a events, want 0", got)
	}

	sa.reset()
	sb.reset()
	if _, err := e.EmitLockerStateChanged(ctx, lockerData("locker-2"), "zone_b"); err != nil {
		t.Fatalf("emit to zone_b: %v", err)
	}
	if got := len(sa.ofType(t, string(model.EventLockerStateChanged))); got != 1 {
		t.Errorf("A received %d zone_b events, want 1 (fallback)", got)
	}
	if got := len(sb.ofType(t, string(model.EventLockerStateChanged))); got != 1 {
		t.Errorf("B received %d zone_b events, want 1 (fallback)", got)
	}
}

func TestBroadcast_NamespaceIsolation(t *testing.T) {
	e := newTestEngine(t, nil)
	_, lockers := mustConnect(t, e, model.NamespaceLockers)
	_, help := mustConnect(t, e, model.NamespaceHelp)

	if _, err := e.EmitHelpRequested(context.Background(), events.HelpRequested{
		ID: "h-1", KioskID: "kiosk-1", Category: model.HelpOther,
	}, ""); err != nil {
		t.Fatalf("EmitHelpRequested: %v", err)
	}
	if got := len(help.ofType(t, string(model.EventHelpRequested))); got != 1 {
		t.Errorf("help namespace got %d events, want 1", got)
	}
	if got := len(lockers.ofType(t, string(model.EventHelpRequested))); got != 0 {
		t.Errorf("lockers namespace got %d help events, want 0", got)
	}
}

func TestBroadcast_IsolatesFailingSockets(t *testing.T) {
	e := newTestEngine(t, nil)
	_, bad := mustConnect(t, e, model.NamespaceLockers)
	_, dead := mustConnect(t, e, model.NamespaceLockers)
	_, good := mustConnect(t, e, model.NamespaceLockers)
	bad.mu.Lock()
	bad.sendErr = ErrSendBufferFull
	bad.mu.Unlock()
	dead.Close()

	ev, err := events.NewLockerStateChangedEvent(lockerData("locker-5"), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit must not surface transport errors: %v", err)
	}
	if got := len(good.ofType(t, string(model.EventLockerStateChanged))); got != 1 {
		t.Errorf("healthy connection got %d events, want 1", got)
	}
}

func TestEmit_InvalidEventHasNoSideEffects(t *testing.T) {
	store := eventstore.New(eventstore.Options{})
	e := newTestEngine(t, func(o *Options) { o.Store = store })
	_, s := mustConnect(t, e, model.NamespaceLockers)
	s.reset()

	_, err := e.EmitLockerStateChanged(context.Background(), events.LockerStateChanged{
		LockerID: "locker-1", OldState: model.LockerClosed, NewState: "ajar",
	}, "")
	if !model.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("invalid event persisted")
	}
	if frames := s.decoded(t); len(frames) != 0 {
		t.Errorf("invalid event broadcast: %v", frames)
	}

	ev, _ := events.NewLockerStateChangedEvent(lockerData("locker-1"), "")
	ev.Namespace = "/ws/unregistered"
	if err := e.Emit(context.Background(), ev); !model.IsValidation(err) {
		t.Errorf("expected validation error for unknown namespace, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("event for unknown namespace persisted")
	}
}

func TestConnect_ReplaysBacklog(t *testing.T) {
	clk := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := eventstore.New(eventstore.Options{Now: clk.Now})
	e := newTestEngine(t, func(o *Options) {
		o.Store = store
		o.Now = clk.Now
		o.ReplayLimit = 3
	})
	ctx := context.Background()

	old, _ := e.EmitLockerStateChanged(ctx, lockerData("too-old"), "")
	clk.Advance(2 * time.Hour)
	var recent []string
	for i := range 5 {
		ev, err := e.EmitLockerStateChanged(ctx, lockerData(fmt.Sprintf("locker-%d", i)), "")
		if err != nil {
			t.Fatal(err)
		}
		recent = append(recent, ev.ID)
	}
	_, _ = e.EmitHelpRequested(ctx, events.HelpRequested{ID: "h", KioskID: "k", Category: model.HelpOther}, "")

	_, s := mustConnect(t, e, model.NamespaceLockers)
	frames := s.decoded(t)
	if frames[0]["type"] != model.FrameConnectionEstablished {
		t.Fatalf("first frame = %v, want ack", frames[0]["type"])
	}
	replayed := frames[1:]
	if len(replayed) != 3 {
		t.Fatalf("replayed %d events, want 3 (limit)", len(replayed))
	}
	for i, f := range replayed {
		if f["id"] != recent[i] {
			t.Errorf("replay %d = %v, want %s", i, f["id"], recent[i])
		}
		if f["id"] == old.ID {
			t.Error("event outside the replay window was replayed")
		}
	}
}

func TestEmit_ConcurrentEmissions(t *testing.T) {
	store := eventstore.New(eventstore.Options{})
	e := newTestEngine(t, func(o *Options) { o.Store = store })
	_, s := mustConnect(t, e, model.NamespaceLockers)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.EmitLockerStateChanged(context.Background(), lockerData(fmt.Sprintf("locker-%d", i)), ""); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("emit failed: %v", err)
	}

	if got := store.Statistics().EventsByType[string(model.EventLockerStateChanged)]; got != 50 {
		t.Errorf("events_by_type[locker_state_changed] = %d, want 50", got)
	}

	// Broadcast order equals persistence order.
	var live []string
	for _, f := range s.ofType(t, string(model.EventLockerStateChanged)) {
		live = append(live, f["id"].(string))
	}
	persisted := store.Replay(eventstore.Query{Namespace: model.NamespaceLockers})
	if len(live) != len(persisted) {
		t.Fatalf("broadcast %d events, persisted %d", len(live), len(persisted))
	}
	for i := range live {
		if live[i] != persisted[i].ID {
			t.Fatalf("order mismatch at %d: broadcast %s, persisted %s", i, live[i], persisted[i].ID)
		}
	}

	if m := e.LatencyMetrics(); m.Samples != 50 || m.Connections != 1 {
		t.Errorf("latency metrics = %+v", m)
	}
}

func TestHandleMessage(t *testing.T) {
	e := newTestEngine(t, nil)
	id, s := mustConnect(t, e, model.NamespaceLockers)
	s.reset()

	e.HandleMessage(id, []byte(`{not json`))
	errs := s.ofType(t, model.FrameError)
	if len(errs) != 1 || errs[0]["data"].(map[string]any)["message"] != "Invalid message format" {
		t.Fatalf("malformed JSON: got %v", errs)
	}
	if s.Closed() {
		t.Fatal("malformed input closed the connection")
	}

	s.reset()
	e.HandleMessage(id, []byte(`{"type":"dance"}`))
	if errs := s.ofType(t, model.FrameError); len(errs) != 1 ||
		errs[0]["data"].(map[string]any)["message"] != "Unknown message type" {
		t.Errorf("unknown type: got %v", errs)
	}

	s.reset()
	e.HandleMessage(id, []byte(`{"type":"join_room","room":"  "}`))
	if errs := s.ofType(t, model.FrameError); len(errs) != 1 ||
		errs[0]["data"].(map[string]any)["message"] != "Room name is required" {
		t.Errorf("blank room name: got %v", errs)
	}

	s.reset()
	long := strings.Repeat("r", 129)
	e.HandleMessage(id, []byte(`{"type":"join_room","room":"`+long+`"}`))
	if errs := s.ofType(t, model.FrameError); len(errs) != 1 ||
		errs[0]["data"].(map[string]any)["message"] != "Room name too long" {
		t.Errorf("long room name: got %v", errs)
	}
	if _, ok := e.Statistics().Namespaces[model.NamespaceLockers].Rooms[long]; ok {
		t.Error("over-long room was joined")
	}

	s.reset()
	e.HandleMessage(id, []byte(`{"type":"join_room","room":"zone_a"}`))
	if got := e.Statistics().Namespaces[model.NamespaceLockers].Rooms["zone_a"]; got != 1 {
		t.Errorf("zone_a members = %d, want 1", got)
	}
	e.HandleMessage(id, []byte(`{"type":"leave_room","room":"zone_a"}`))
	if _, ok := e.Statistics().Namespaces[model.NamespaceLockers].Rooms["zone_a"]; ok {
		t.Error("empty room should disappear")
	}
	if len(s.ofType(t, model.FrameRoomJoined)) != 1 || len(s.ofType(t, model.FrameRoomLeft)) != 1 {
		t.Error("missing room confirmations")
	}

	s.reset()
	e.HandleMessage(id, []byte(`{"type":"ping","data":{"timestamp":1700000000000}}`))
	pongs := s.ofType(t, model.FramePong)
	if len(pongs) != 1 {
		t.Fatalf("expected pong, got %v", s.decoded(t))
	}
	pd := pongs[0]["data"].(map[string]any)
	if pd["timestamp"] != float64(1700000000000) || pd["server_timestamp"] == nil {
		t.Errorf("unexpected pong data: %v", pd)
	}

	// Unknown connection ids are ignored.
	e.HandleMessage("conn-missing", []byte(`{"type":"ping"}`))
}

func TestDisconnect_Idempotent(t *testing.T) {
	e := newTestEngine(t, nil)
	id, s := mustConnect(t, e, model.NamespaceLockers)
	e.JoinRoom(id, "zone_a")

	e.Disconnect(id)
	e.Disconnect(id)
	e.Disconnect("conn-unknown")

	if !s.Closed() {
		t.Error("socket not closed on disconnect")
	}
	st := e.Statistics()
	if st.TotalConnections != 0 || len(st.Namespaces[model.NamespaceLockers].Rooms) != 0 {
		t.Errorf("state not cleaned: %+v", st)
	}
	if e.JoinRoom(id, "zone_b") || e.LeaveRoom(id, "zone_a") {
		t.Error("room ops on a closed connection should report false")
	}
}

func TestSweep_IdleAndClosed(t *testing.T) {
	clk := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	swept := 0
	e := newTestEngine(t, func(o *Options) {
		o.Now = clk.Now
		o.OnSweep = func() { swept++ }
	})

	idle, idleSock := mustConnect(t, e, model.NamespaceLockers)
	active, _ := mustConnect(t, e, model.NamespaceLockers)
	_, deadSock := mustConnect(t, e, model.NamespaceHelp)
	deadSock.Close()

	clk.Advance(4 * time.Minute)
	e.HandleMessage(active, []byte(`{"type":"ping"}`))
	clk.Advance(2 * time.Minute)

	if n := e.Sweep(); n != 2 {
		t.Fatalf("Sweep removed %d, want 2", n)
	}
	if !idleSock.Closed() {
		t.Errorf("idle connection %s not closed", idle)
	}
	if st := e.Statistics(); st.TotalConnections != 1 {
		t.Errorf("remaining connections = %d, want 1", st.TotalConnections)
	}
	if swept != 1 {
		t.Errorf("OnSweep ran %d times, want 1", swept)
	}
}

func TestBroadcastToRoom_AdHoc(t *testing.T) {
	e := newTestEngine(t, nil)
	a, sa := mustConnect(t, e, model.NamespaceEvents)
	_, sb := mustConnect(t, e, model.NamespaceEvents)
	e.JoinRoom(a, "kiosk-1")

	n, err := e.BroadcastToRoom(model.NamespaceEvents, "kiosk-1", "maintenance_notice", map[string]string{"msg": "restart"})
	if err != nil || n != 1 {
		t.Fatalf("BroadcastToRoom = %d, %v", n, err)
	}
	if len(sa.ofType(t, "maintenance_notice")) != 1 || len(sb.ofType(t, "maintenance_notice")) != 0 {
		t.Error("room-targeted ad hoc frame misdelivered")
	}

	n, err = e.BroadcastMessage(model.NamespaceEvents, "maintenance_notice", nil)
	if err != nil || n != 2 {
		t.Errorf("BroadcastMessage = %d, %v", n, err)
	}
	if _, err := e.BroadcastMessage("/ws/nope", "x", nil); !model.IsValidation(err) {
		t.Errorf("expected validation error for unknown namespace, got %v", err)
	}
}

func TestShutdown(t *testing.T) {
	e := newTestEngine(t, func(o *Options) { o.SweepInterval = 10 * time.Millisecond })
	e.Start()
	_, s := mustConnect(t, e, model.NamespaceLockers)

	e.Shutdown()
	if !s.Closed() {
		t.Error("Shutdown did not close socket")
	}
	if e.Statistics().TotalConnections != 0 {
		t.Error("connections remain after Shutdown")
	}
	_, err := e.Connect(context.Background(), &fakeSocket{}, model.NamespaceLockers, "")
	var re *model.RejectedError
	if !errors.As(err, &re) {
		t.Errorf("Connect after Shutdown = %v, want rejection", err)
	}
}
