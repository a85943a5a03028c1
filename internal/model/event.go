package model

import (
	"encoding/json"
	"time"
)

// EventVersion is stamped on every envelope built by the event registry.
const EventVersion = "1.0.0"

// EventType names a kind of event carried on the wire.
type EventType string

// Persisted event types.
const (
	EventLockerStateChanged EventType = "locker_state_changed"
	EventHelpRequested      EventType = "help_requested"
	EventHelpStatusUpdated  EventType = "help_status_updated"
	EventCommandApplied     EventType = "command_applied"
)

// Control frame types. These are never persisted.
const (
	FrameConnectionEstablished = "connection_established"
	FrameRoomJoined            = "room_joined"
	FrameRoomLeft              = "room_left"
	FramePong                  = "pong"
	FrameError                 = "error"

	FrameJoinRoom  = "join_room"
	FrameLeaveRoom = "leave_room"
	FramePing      = "ping"
)

// Default namespaces provisioned at startup.
const (
	NamespaceLockers = "/ws/lockers"
	NamespaceHelp    = "/ws/help"
	NamespaceEvents  = "/ws/events"
)

// DefaultNamespaces lists the namespaces every engine starts with.
var DefaultNamespaces = []string{NamespaceLockers, NamespaceHelp, NamespaceEvents}

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// IsValid reports whether the event type is one of the persisted kinds.
func (t EventType) IsValid() bool {
	switch t {
	case EventLockerStateChanged, EventHelpRequested, EventHelpStatusUpdated, EventCommandApplied:
		return true
	}
	return false
}

// Event is the immutable envelope broadcast to clients and kept in the
// event store. Data holds the kind-specific payload as compact JSON.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Namespace string          `json:"namespace"`
	Room      string          `json:"room,omitempty"`
	Version   string          `json:"version"`
}

// DecodeData unmarshals the event payload into v.
func (e *Event) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// StoredEvent is a persisted copy of an Event with its expiry.
type StoredEvent struct {
	Event     *Event    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the stored event has passed its expiry at now.
func (s *StoredEvent) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Frame is the JSON shape of every outbound WebSocket message.
type Frame struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Namespace string    `json:"namespace,omitempty"`
	Room      string    `json:"room,omitempty"`
	ID        string    `json:"id,omitempty"`
	Version   string    `json:"version,omitempty"`
}

// FrameFromEvent wraps an event envelope as an outbound frame.
func FrameFromEvent(e *Event) Frame {
	return Frame{
		Type:      string(e.Type),
		Data:      e.Data,
		Timestamp: e.Timestamp,
		Namespace: e.Namespace,
		Room:      e.Room,
		ID:        e.ID,
		Version:   e.Version,
	}
}

// InboundMessage is a client-to-server WebSocket message.
type InboundMessage struct {
	Type string          `json:"type"`
	Room string          `json:"room,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}
