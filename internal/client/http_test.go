package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mredag/eformLockerRoom-sub013/internal/commands"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	method      string
	path        string
	rawPath     string
	query       string
	body        string
	contentType string
	auth        string

	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.rawPath = r.URL.RawPath
	h.query = r.URL.RawQuery
	h.contentType = r.Header.Get("Content-Type")
	h.auth = r.Header.Get("Authorization")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

func newTestClient(t *testing.T, h http.Handler, token string) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", token)
}

func TestHealth(t *testing.T) {
	h := &testHandler{responseBody: `{"status":"ok"}`}
	c := newTestClient(t, h, "")
	resp, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if resp.Status != "ok" || h.method != http.MethodGet || h.path != "/v1/health" {
		t.Fatalf("unexpected: %+v %s %s", resp, h.method, h.path)
	}
}

func TestHealth_DegradedKeepsBody(t *testing.T) {
	h := &testHandler{statusCode: http.StatusServiceUnavailable, responseBody: `{"status":"degraded","components":{"queue":"unavailable"}}`}
	c := newTestClient(t, h, "")
	resp, err := c.Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 APIError, got %v", err)
	}
	if resp == nil || resp.Components["queue"] != "unavailable" {
		t.Fatalf("expected decoded body, got %+v", resp)
	}
}

func TestEmit(t *testing.T) {
	h := &testHandler{statusCode: http.StatusCreated, responseBody: `{"id":"evt-1","type":"help_requested","namespace":"/ws/help","version":"1.0.0"}`}
	c := newTestClient(t, h, "secret")
	ev, err := c.Emit(context.Background(), &EmitRequest{
		Type: model.EventHelpRequested,
		Data: json.RawMessage(`{"id":"h1","kioskId":"k1","category":"other","status":"open"}`),
		Room: "k1",
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if ev.ID != "evt-1" || ev.Namespace != "/ws/help" {
		t.Errorf("event = %+v", ev)
	}
	if h.method != http.MethodPost || h.path != "/v1/events" || h.contentType != "application/json" {
		t.Errorf("request = %s %s (%s)", h.method, h.path, h.contentType)
	}
	if h.auth != "Bearer secret" {
		t.Errorf("auth header = %q", h.auth)
	}
	var sent map[string]any
	if err := json.Unmarshal([]byte(h.body), &sent); err != nil {
		t.Fatal(err)
	}
	if sent["type"] != "help_requested" || sent["room"] != "k1" {
		t.Errorf("body = %s", h.body)
	}
}

func TestReplay_QueryString(t *testing.T) {
	h := &testHandler{responseBody: `{"events":[{"id":"evt-1"},{"id":"evt-2"}],"total":2}`}
	c := newTestClient(t, h, "")
	since := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	evs, err := c.Replay(context.Background(), &ReplayRequest{
		Namespace: "/ws/lockers",
		Types:     []string{"locker_state_changed", "command_applied"},
		Since:     since,
		Limit:     5,
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	q, _ := url.ParseQuery(h.query)
	if q.Get("namespace") != "/ws/lockers" || q.Get("limit") != "5" ||
		q.Get("type") != "locker_state_changed,command_applied" || q.Get("since") != "2026-05-01T12:00:00Z" {
		t.Errorf("query = %s", h.query)
	}
	if q.Has("room") || q.Has("include_expired") {
		t.Errorf("unset filters must be omitted: %s", h.query)
	}
}

func TestDispatch_Conflict(t *testing.T) {
	h := &testHandler{statusCode: http.StatusConflict, responseBody: `{"code":"conflict","message":"conflict on k1:3: resource is locked"}`}
	c := newTestClient(t, h, "")
	_, err := c.Dispatch(context.Background(), commands.Request{KioskID: "k1", Type: model.CommandOpen, LockerID: 3})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "conflict" || !strings.Contains(apiErr.Message, "locked") {
		t.Errorf("APIError = %+v", apiErr)
	}
	if h.path != "/v1/commands" {
		t.Errorf("path = %s", h.path)
	}
}

func TestDispatchBulkAndComplete(t *testing.T) {
	h := &testHandler{statusCode: http.StatusCreated, responseBody: `{"id":"cmd-1","kiosk_id":"k1","type":"open","status":"pending","payload":{"locker_ids":[1,2]}}`}
	c := newTestClient(t, h, "")
	cmd, err := c.DispatchBulk(context.Background(), commands.BulkRequest{KioskID: "k1", Type: model.CommandOpen, LockerIDs: []int{1, 2}})
	if err != nil {
		t.Fatalf("DispatchBulk: %v", err)
	}
	if cmd.ID != "cmd-1" || len(cmd.Payload.LockerIDs) != 2 || h.path != "/v1/commands/bulk" {
		t.Errorf("cmd = %+v path = %s", cmd, h.path)
	}

	h.statusCode = http.StatusOK
	h.responseBody = `{"event":{"id":"evt-9","type":"command_applied","room":"k1"}}`
	ev, err := c.Complete(context.Background(), "cmd/1", commands.Result{Success: true})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if ev.Type != model.EventCommandApplied || ev.Room != "k1" {
		t.Errorf("event = %+v", ev)
	}
	if h.rawPath != "/v1/commands/cmd%2F1/complete" {
		t.Errorf("command id must be path-escaped, raw path = %q", h.rawPath)
	}
}

func TestLockInfo(t *testing.T) {
	h := &testHandler{responseBody: `{"key":"k1:4","locked":true,"acquired_at":"2026-05-01T12:00:00Z","expires_at":"2026-05-01T12:01:30Z"}`}
	c := newTestClient(t, h, "")
	info, err := c.LockInfo(context.Background(), "k1", 4)
	if err != nil {
		t.Fatalf("LockInfo: %v", err)
	}
	if !info.Locked || info.ExpiresAt == nil || info.ExpiresAt.Sub(*info.AcquiredAt) != 90*time.Second {
		t.Errorf("info = %+v", info)
	}
	if h.path != "/v1/locks/k1/4" {
		t.Errorf("path = %s", h.path)
	}
}

func TestBroadcastAndStats(t *testing.T) {
	h := &testHandler{responseBody: `{"delivered":3}`}
	c := newTestClient(t, h, "")
	n, err := c.Broadcast(context.Background(), &BroadcastRequest{Namespace: "/ws/help", Type: "announcement"})
	if err != nil || n != 3 {
		t.Fatalf("Broadcast = %d, %v", n, err)
	}

	h.responseBody = `{"engine":{"total_connections":2,"namespaces":{"/ws/lockers":{"require_auth":false,"connections":2,"rooms":{"k1":1}}}},"events":{"total_events":7},"commands_in_flight":1}`
	st, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Engine.TotalConnections != 2 || st.Events.TotalEvents != 7 || st.CommandsInFlight != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.Engine.Namespaces["/ws/lockers"].Rooms["k1"] != 1 {
		t.Errorf("rooms = %+v", st.Engine.Namespaces)
	}
}

func TestDoJSON_PlainTextError(t *testing.T) {
	h := &testHandler{statusCode: http.StatusBadGateway, responseBody: "bad gateway\n"}
	c := newTestClient(t, h, "")
	_, err := c.Latency(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "bad gateway" {
		t.Fatalf("expected plain-text APIError, got %v", err)
	}
}
