// Package broadcast is the WebSocket fan-out engine. It owns namespaces,
// rooms and connections, persists events before broadcasting them, and
// replays recent backlog to every new connection.
//
// All engine state lives behind one mutex. Sockets are written through a
// non-blocking Send so that a slow or dead peer never stalls a fan-out, and
// no validator, queue or socket I/O happens while the mutex is held.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mredag/eformLockerRoom-sub013/internal/events"
	"github.com/mredag/eformLockerRoom-sub013/internal/eventstore"
	"github.com/mredag/eformLockerRoom-sub013/internal/idgen"
	"github.com/mredag/eformLockerRoom-sub013/internal/metrics"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
	"github.com/mredag/eformLockerRoom-sub013/internal/session"
)

const (
	DefaultSweepInterval = 30 * time.Second
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultReplayWindow  = time.Hour
	DefaultReplayLimit   = 50
)

// rejectShuttingDown is used once Shutdown has been called.
const rejectShuttingDown = "shutting_down"

// Socket is the engine's view of one client transport. Send must not block:
// it either queues the frame or fails.
type Socket interface {
	Send(frame []byte) error
	Close() error
	Closed() bool
}

// EventStore is the persistence the engine writes through and replays from.
type EventStore interface {
	Persist(e *model.Event, ttl time.Duration) (*model.StoredEvent, error)
	Replay(q eventstore.Query) []*model.Event
}

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Store     EventStore
	Validator session.Validator
	Publisher events.Publisher

	SweepInterval  time.Duration
	IdleTimeout    time.Duration
	ReplayWindow   time.Duration
	ReplayLimit    int
	EventTTL       time.Duration
	LatencySamples int

	// OnSweep runs after every idle sweep, outside the engine lock.
	OnSweep func()

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

type namespace struct {
	path        string
	requireAuth bool
	members     map[string]struct{}
	rooms       map[string]map[string]struct{} // room -> connection ids
}

type connection struct {
	id            string
	namespace     string
	rooms         map[string]struct{}
	authenticated bool
	sessionID     string
	connectedAt   time.Time
	lastActivity  time.Time
	socket        Socket
}

// Engine coordinates namespaces, rooms and connections.
type Engine struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
	conns      map[string]*connection
	closed     bool

	// emitMu serializes persist+broadcast and connection registration so
	// that broadcast order equals persistence order and a new connection
	// sees each event exactly once, either in its replay or live.
	emitMu sync.Mutex

	store     EventStore
	validator session.Validator
	publisher events.Publisher
	latency   *LatencyRecorder
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	sweepInterval time.Duration
	idleTimeout   time.Duration
	replayWindow  time.Duration
	replayLimit   int
	eventTTL      time.Duration
	onSweep       func()

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewEngine creates an engine with no namespaces.
func NewEngine(opts Options) *Engine {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.ReplayWindow <= 0 {
		opts.ReplayWindow = DefaultReplayWindow
	}
	if opts.ReplayLimit <= 0 {
		opts.ReplayLimit = DefaultReplayLimit
	}
	if opts.Store == nil {
		opts.Store = eventstore.New(eventstore.Options{Metrics: opts.Metrics, Logger: opts.Logger})
	}
	if opts.Validator == nil {
		opts.Validator = session.DenyAll{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		namespaces:    make(map[string]*namespace),
		conns:         make(map[string]*connection),
		store:         opts.Store,
		validator:     opts.Validator,
		publisher:     opts.Publisher,
		latency:       NewLatencyRecorder(opts.LatencySamples),
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		now:           opts.Now,
		sweepInterval: opts.SweepInterval,
		idleTimeout:   opts.IdleTimeout,
		replayWindow:  opts.ReplayWindow,
		replayLimit:   opts.ReplayLimit,
		eventTTL:      opts.EventTTL,
		onSweep:       opts.OnSweep,
	}
}

// CreateNamespace registers path. Calling it again for an existing path
// only updates requireAuth; members and rooms are kept.
func (e *Engine) CreateNamespace(path string, requireAuth bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ns, ok := e.namespaces[path]; ok {
		ns.requireAuth = requireAuth
		return
	}
	e.namespaces[path] = &namespace{
		path:        path,
		requireAuth: requireAuth,
		members:     make(map[string]struct{}),
		rooms:       make(map[string]map[string]struct{}),
	}
	e.logger.Info("broadcast: namespace registered", "namespace", path, "require_auth", requireAuth)
}

// HasNamespace reports whether path is registered.
func (e *Engine) HasNamespace(path string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.namespaces[path]
	return ok
}

// Namespaces returns the registered paths in sorted order.
func (e *Engine) Namespaces() []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.namespaces))
	for p := range e.namespaces {
		out = append(out, p)
	}
	e.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Connect authenticates and registers socket in namespacePath, sends the
// connection_established frame and replays recent backlog. On rejection the
// socket is closed and no connection is created.
func (e *Engine) Connect(ctx context.Context, socket Socket, namespacePath, sessionID string) (string, error) {
	e.mu.RLock()
	ns, ok := e.namespaces[namespacePath]
	requireAuth := ok && ns.requireAuth
	closed := e.closed
	e.mu.RUnlock()

	switch {
	case closed:
		return "", e.reject(socket, namespacePath, rejectShuttingDown)
	case !ok:
		return "", e.reject(socket, namespacePath, model.RejectUnknownNamespace)
	}

	// The validator is consulted only for namespaces that require auth.
	authenticated := false
	if requireAuth {
		valid, err := e.validator.Validate(ctx, sessionID)
		if err != nil {
			e.logger.Error("broadcast: session validation failed",
				"namespace", namespacePath, "err", err)
			e.metrics.ConnectRejected("upstream_error")
			e.sendError(socket, "Session validation unavailable")
			socket.Close()
			return "", &model.UpstreamError{Op: "session validator", Err: err}
		}
		if !valid {
			return "", e.reject(socket, namespacePath, model.RejectUnauthenticated)
		}
		authenticated = true
	}

	id, err := idgen.ConnectionID()
	if err != nil {
		socket.Close()
		return "", fmt.Errorf("generating connection id: %w", err)
	}

	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	now := e.now()
	e.mu.Lock()
	ns, ok = e.namespaces[namespacePath]
	if e.closed || !ok {
		e.mu.Unlock()
		return "", e.reject(socket, namespacePath, rejectShuttingDown)
	}
	c := &connection{
		id:            id,
		namespace:     namespacePath,
		rooms:         make(map[string]struct{}),
		authenticated: authenticated,
		sessionID:     sessionID,
		connectedAt:   now,
		lastActivity:  now,
		socket:        socket,
	}
	e.conns[id] = c
	ns.members[id] = struct{}{}
	e.mu.Unlock()

	e.metrics.ConnectionOpened(namespacePath)
	e.logger.Info("broadcast: connection established",
		"connection_id", id, "namespace", namespacePath, "authenticated", authenticated)

	e.sendFrame(c, model.Frame{
		Type: model.FrameConnectionEstablished,
		Data: map[string]any{
			"connectionId":  id,
			"namespace":     namespacePath,
			"authenticated": authenticated,
			"serverTime":    now.UTC(),
		},
		Timestamp: now.UTC(),
		Namespace: namespacePath,
	})
	e.replay(c, now)
	return id, nil
}

// replay sends the default backlog for c. Must be called with emitMu held.
func (e *Engine) replay(c *connection, now time.Time) {
	backlog := e.store.Replay(eventstore.Query{
		Namespace: c.namespace,
		Since:     now.Add(-e.replayWindow),
		Limit:     e.replayLimit,
	})
	for _, ev := range backlog {
		data, err := json.Marshal(model.FrameFromEvent(ev))
		if err != nil {
			e.logger.Warn("broadcast: skipping unencodable replay event", "event_id", ev.ID, "err", err)
			continue
		}
		e.send(c.id, c.socket, data)
	}
	if len(backlog) > 0 {
		e.logger.Debug("broadcast: replayed backlog", "connection_id", c.id, "count", len(backlog))
	}
}

func (e *Engine) reject(socket Socket, namespacePath, reason string) error {
	e.metrics.ConnectRejected(reason)
	e.logger.Info("broadcast: connection rejected", "namespace", namespacePath, "reason", reason)
	e.sendError(socket, "Connection rejected: "+reason)
	socket.Close()
	return &model.RejectedError{Namespace: namespacePath, Reason: reason}
}

// Disconnect removes a connection from its rooms and namespace and closes
// its socket. Unknown ids are ignored.
func (e *Engine) Disconnect(connectionID string) {
	e.mu.Lock()
	c, ok := e.conns[connectionID]
	if !ok {
		e.mu.Unlock()
		return
	}
	e.removeLocked(c)
	e.mu.Unlock()

	c.socket.Close()
	e.metrics.ConnectionClosed(c.namespace)
	e.logger.Info("broadcast: connection closed", "connection_id", connectionID, "namespace", c.namespace)
}

// removeLocked must be called with e.mu held.
func (e *Engine) removeLocked(c *connection) {
	delete(e.conns, c.id)
	ns, ok := e.namespaces[c.namespace]
	if !ok {
		return
	}
	delete(ns.members, c.id)
	for room := range c.rooms {
		if set, ok := ns.rooms[room]; ok {
			delete(set, c.id)
			if len(set) == 0 {
				delete(ns.rooms, room)
			}
		}
	}
}

// JoinRoom adds a connection to room within its namespace and confirms
// with a room_joined frame. It reports false for unknown connections.
func (e *Engine) JoinRoom(connectionID, room string) bool {
	e.mu.Lock()
	c, ok := e.conns[connectionID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	ns := e.namespaces[c.namespace]
	set, ok := ns.rooms[room]
	if !ok {
		set = make(map[string]struct{})
		ns.rooms[room] = set
	}
	set[connectionID] = struct{}{}
	c.rooms[room] = struct{}{}
	e.mu.Unlock()

	e.sendFrame(c, model.Frame{
		Type:      model.FrameRoomJoined,
		Data:      map[string]string{"room": room},
		Timestamp: e.now().UTC(),
		Namespace: c.namespace,
		Room:      room,
	})
	return true
}

// LeaveRoom removes a connection from room and confirms with a room_left
// frame. Rooms disappear with their last member.
func (e *Engine) LeaveRoom(connectionID, room string) bool {
	e.mu.Lock()
	c, ok := e.conns[connectionID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	ns := e.namespaces[c.namespace]
	if set, ok := ns.rooms[room]; ok {
		delete(set, connectionID)
		if len(set) == 0 {
			delete(ns.rooms, room)
		}
	}
	delete(c.rooms, room)
	e.mu.Unlock()

	e.sendFrame(c, model.Frame{
		Type:      model.FrameRoomLeft,
		Data:      map[string]string{"room": room},
		Timestamp: e.now().UTC(),
		Namespace: c.namespace,
		Room:      room,
	})
	return true
}

// Broadcast delivers a persisted event to its room, or to the whole
// namespace when the room is unset or currently has no members. It returns
// the number of connections the frame was queued for.
func (e *Engine) Broadcast(ev *model.Event) int {
	data, err := json.Marshal(model.FrameFromEvent(ev))
	if err != nil {
		e.logger.Error("broadcast: encoding event", "event_id", ev.ID, "err", err)
		return 0
	}
	return e.fanOut(ev.Namespace, ev.Room, data)
}

// BroadcastMessage sends an ad hoc, unpersisted frame to every connection
// in namespacePath.
func (e *Engine) BroadcastMessage(namespacePath, frameType string, data any) (int, error) {
	return e.BroadcastToRoom(namespacePath, "", frameType, data)
}

// BroadcastToRoom sends an ad hoc, unpersisted frame to room, with the same
// empty-room fallback as Broadcast.
func (e *Engine) BroadcastToRoom(namespacePath, room, frameType string, data any) (int, error) {
	if strings.TrimSpace(frameType) == "" {
		return 0, model.NewValidationError("type", "is required")
	}
	if !e.HasNamespace(namespacePath) {
		return 0, model.NewValidationError("namespace", fmt.Sprintf("unknown namespace %q", namespacePath))
	}
	payload, err := json.Marshal(model.Frame{
		Type:      frameType,
		Data:      data,
		Timestamp: e.now().UTC(),
		Namespace: namespacePath,
		Room:      room,
	})
	if err != nil {
		return 0, model.NewValidationError("data", fmt.Sprintf("cannot encode: %v", err))
	}
	return e.fanOut(namespacePath, room, payload), nil
}

func (e *Engine) fanOut(namespacePath, room string, payload []byte) int {
	start := time.Now()

	type target struct {
		id     string
		socket Socket
	}
	e.mu.RLock()
	ns, ok := e.namespaces[namespacePath]
	if !ok {
		e.mu.RUnlock()
		e.logger.Debug("broadcast: dropping frame for unknown namespace", "namespace", namespacePath)
		return 0
	}
	ids := ns.members
	if room != "" {
		if set := ns.rooms[room]; len(set) > 0 {
			ids = set
		}
	}
	targets := make([]target, 0, len(ids))
	for id := range ids {
		if c, ok := e.conns[id]; ok {
			targets = append(targets, target{id: id, socket: c.socket})
		}
	}
	e.mu.RUnlock()

	delivered := 0
	for _, t := range targets {
		if e.send(t.id, t.socket, payload) {
			delivered++
		}
	}

	elapsed := time.Since(start)
	e.latency.Record(elapsed)
	e.metrics.ObserveBroadcast(elapsed.Seconds())
	return delivered
}

// send queues one frame. A failing socket is logged and skipped.
func (e *Engine) send(connectionID string, socket Socket, payload []byte) bool {
	if socket.Closed() {
		e.metrics.FrameDropped()
		return false
	}
	if err := socket.Send(payload); err != nil {
		e.metrics.FrameDropped()
		e.logger.Warn("broadcast: send failed", "connection_id", connectionID, "err", err)
		return false
	}
	return true
}

func (e *Engine) sendFrame(c *connection, f model.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		e.logger.Error("broadcast: encoding frame", "type", f.Type, "err", err)
		return
	}
	e.send(c.id, c.socket, data)
}

func (e *Engine) sendError(socket Socket, message string) {
	data, _ := json.Marshal(model.Frame{
		Type:      model.FrameError,
		Data:      map[string]string{"message": message},
		Timestamp: e.now().UTC(),
	})
	if !socket.Closed() {
		_ = socket.Send(data)
	}
}

// Emit persists ev with the engine's default TTL, then broadcasts it.
func (e *Engine) Emit(ctx context.Context, ev *model.Event) error {
	return e.EmitTTL(ctx, ev, e.eventTTL)
}

// EmitTTL validates, persists and broadcasts ev, then mirrors it to the
// external publisher. Invalid events have no side effects. A non-positive
// ttl selects the store default.
func (e *Engine) EmitTTL(ctx context.Context, ev *model.Event, ttl time.Duration) error {
	if err := events.Validate(ev); err != nil {
		return err
	}
	if !e.HasNamespace(ev.Namespace) {
		return model.NewValidationError("namespace", fmt.Sprintf("unknown namespace %q", ev.Namespace))
	}

	e.emitMu.Lock()
	if _, err := e.store.Persist(ev, ttl); err != nil {
		e.emitMu.Unlock()
		return fmt.Errorf("persisting event %s: %w", ev.ID, err)
	}
	n := e.Broadcast(ev)
	e.emitMu.Unlock()

	e.metrics.EventEmitted(string(ev.Type))
	e.logger.Debug("broadcast: event emitted",
		"event_id", ev.ID, "type", ev.Type, "namespace", ev.Namespace, "room", ev.Room, "recipients", n)

	if err := e.publisher.Publish(ctx, events.Subject(ev.Type), ev); err != nil {
		e.logger.Warn("broadcast: mirroring event failed", "event_id", ev.ID, "err", err)
	}
	return nil
}

// EmitLockerStateChanged builds and emits a locker_state_changed event.
func (e *Engine) EmitLockerStateChanged(ctx context.Context, d events.LockerStateChanged, room string) (*model.Event, error) {
	return e.emitBuilt(ctx)(events.NewLockerStateChangedEvent(d, room))
}

// EmitHelpRequested builds and emits a help_requested event.
func (e *Engine) EmitHelpRequested(ctx context.Context, d events.HelpRequested, room string) (*model.Event, error) {
	return e.emitBuilt(ctx)(events.NewHelpRequestedEvent(d, room))
}

// EmitHelpStatusUpdated builds and emits a help_status_updated event.
func (e *Engine) EmitHelpStatusUpdated(ctx context.Context, d events.HelpStatusUpdated, room string) (*model.Event, error) {
	return e.emitBuilt(ctx)(events.NewHelpStatusUpdatedEvent(d, room))
}

// EmitCommandApplied builds and emits a command_applied event.
func (e *Engine) EmitCommandApplied(ctx context.Context, d events.CommandApplied, room string) (*model.Event, error) {
	return e.emitBuilt(ctx)(events.NewCommandAppliedEvent(d, room))
}

func (e *Engine) emitBuilt(ctx context.Context) func(*model.Event, error) (*model.Event, error) {
	return func(ev *model.Event, err error) (*model.Event, error) {
		if err != nil {
			return nil, err
		}
		if err := e.Emit(ctx, ev); err != nil {
			return nil, err
		}
		return ev, nil
	}
}

// LatencyMetrics is the latency summary plus the live connection count.
type LatencyMetrics struct {
	LatencySummary
	Connections int `json:"connections"`
}

// LatencyMetrics returns broadcast latency percentiles.
func (e *Engine) LatencyMetrics() LatencyMetrics {
	e.mu.RLock()
	n := len(e.conns)
	e.mu.RUnlock()
	return LatencyMetrics{LatencySummary: e.latency.Summary(), Connections: n}
}

// NamespaceStatistics describes one namespace.
type NamespaceStatistics struct {
	RequireAuth bool           `json:"require_auth"`
	Connections int            `json:"connections"`
	Rooms       map[string]int `json:"rooms"`
}

// Statistics is a snapshot of the engine's connection state.
type Statistics struct {
	TotalConnections int                            `json:"total_connections"`
	Namespaces       map[string]NamespaceStatistics `json:"namespaces"`
}

// Statistics returns connection and room counts per namespace.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Statistics{
		TotalConnections: len(e.conns),
		Namespaces:       make(map[string]NamespaceStatistics, len(e.namespaces)),
	}
	for path, ns := range e.namespaces {
		rooms := make(map[string]int, len(ns.rooms))
		for r, set := range ns.rooms {
			rooms[r] = len(set)
		}
		st.Namespaces[path] = NamespaceStatistics{
			RequireAuth: ns.requireAuth,
			Connections: len(ns.members),
			Rooms:       rooms,
		}
	}
	return st
}

// Shutdown stops the sweeper and closes every connection. Later Connect
// calls are rejected.
func (e *Engine) Shutdown() {
	e.Stop()

	e.mu.Lock()
	e.closed = true
	conns := make([]*connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
		e.removeLocked(c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		c.socket.Close()
		e.metrics.ConnectionClosed(c.namespace)
	}
	e.logger.Info("broadcast: engine shut down", "closed_connections", len(conns))
}
