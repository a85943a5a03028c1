// Package server exposes the locker coordination engine over HTTP and gRPC.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mredag/eformLockerRoom-sub013/internal/admission"
	"github.com/mredag/eformLockerRoom-sub013/internal/broadcast"
	"github.com/mredag/eformLockerRoom-sub013/internal/commands"
	"github.com/mredag/eformLockerRoom-sub013/internal/eventstore"
	"github.com/mredag/eformLockerRoom-sub013/internal/metrics"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the server fronts. Engine, Store, Gate and
// Dispatcher are required.
type Deps struct {
	Engine     *broadcast.Engine
	Store      *eventstore.Store
	Gate       *admission.Gate
	Dispatcher *commands.Dispatcher

	// WebSocket serves /ws/. Defaults to a broadcast.Handler on Engine.
	WebSocket http.Handler

	// Checks are consulted by /v1/health, keyed by component name.
	Checks map[string]Pinger

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	engine     *broadcast.Engine
	store      *eventstore.Store
	gate       *admission.Gate
	dispatcher *commands.Dispatcher
	ws         http.Handler
	checks     map[string]Pinger
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
}

// New returns a Server over d.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.WebSocket == nil {
		d.WebSocket = broadcast.NewHandler(d.Engine, broadcast.HandlerOptions{Logger: d.Logger})
	}
	return &Server{
		engine:     d.Engine,
		store:      d.Store,
		gate:       d.Gate,
		dispatcher: d.Dispatcher,
		ws:         d.WebSocket,
		checks:     d.Checks,
		metrics:    d.Metrics,
		gatherer:   d.Gatherer,
		logger:     d.Logger,
	}
}
