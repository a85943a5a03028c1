// Package client talks to a running lockerd over its HTTP/JSON API.
package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mredag/eformLockerRoom-sub013/internal/broadcast"
	"github.com/mredag/eformLockerRoom-sub013/internal/commands"
	"github.com/mredag/eformLockerRoom-sub013/internal/eventstore"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

// Client is the interface lockerd CLI commands use to reach the server.
type Client interface {
	Health(ctx context.Context) (*HealthResponse, error)
	Stats(ctx context.Context) (*StatsResponse, error)
	Latency(ctx context.Context) (*broadcast.LatencyMetrics, error)

	Emit(ctx context.Context, req *EmitRequest) (*model.Event, error)
	Replay(ctx context.Context, q *ReplayRequest) ([]*model.Event, error)
	Broadcast(ctx context.Context, req *BroadcastRequest) (int, error)

	Dispatch(ctx context.Context, req commands.Request) (*model.Command, error)
	DispatchBulk(ctx context.Context, req commands.BulkRequest) (*model.Command, error)
	Complete(ctx context.Context, commandID string, res commands.Result) (*model.Event, error)
	LockInfo(ctx context.Context, kioskID string, lockerID int) (*LockInfo, error)

	Close() error
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// StatsResponse is returned by GET /v1/stats.
type StatsResponse struct {
	Engine           broadcast.Statistics  `json:"engine"`
	Events           eventstore.Statistics `json:"events"`
	CommandsInFlight int                   `json:"commands_in_flight"`
}

// EmitRequest asks the server to emit a typed event.
type EmitRequest struct {
	Type       model.EventType `json:"type"`
	Data       json.RawMessage `json:"data"`
	Namespace  string          `json:"namespace,omitempty"`
	Room       string          `json:"room,omitempty"`
	TTLSeconds int             `json:"ttl_seconds,omitempty"`
}

// ReplayRequest filters GET /v1/events.
type ReplayRequest struct {
	Namespace      string
	Room           string
	Types          []string
	Since          time.Time
	Limit          int
	IncludeExpired bool
}

// BroadcastRequest sends an unpersisted frame.
type BroadcastRequest struct {
	Namespace string `json:"namespace"`
	Room      string `json:"room,omitempty"`
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
}

// LockInfo is the admission lock state of one locker.
type LockInfo struct {
	Key        string     `json:"key"`
	Locked     bool       `json:"locked"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}
