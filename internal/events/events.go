package events

import (
	"context"

	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

// Subject constants for the external event bus.
const (
	// SubjectPrefix prefixes every mirrored event; the event type is appended.
	SubjectPrefix = "lockers.events."

	// SubjectIngest is subscribed to by the ingest bridge. Producers outside
	// this process (locker state manager, command executor) publish envelopes here.
	SubjectIngest = "lockers.ingest.>"
)

// Subject returns the bus subject an event of type t is mirrored to.
func Subject(t model.EventType) string {
	return SubjectPrefix + string(t)
}

// Event payloads. Field names follow the kiosk and panel front ends.

// LockerStateChanged reports a locker moving between states, published to
// the lockers namespace.
type LockerStateChanged struct {
	LockerID  string            `json:"lockerId"`
	KioskID   string            `json:"kioskId,omitempty"`
	OldState  model.LockerState `json:"oldState"`
	NewState  model.LockerState `json:"newState"`
	Reason    string            `json:"reason,omitempty"`
	StaffUser string            `json:"staffUser,omitempty"`
}

// HelpRequested is raised when a kiosk user asks staff for help.
type HelpRequested struct {
	ID       string             `json:"id"`
	KioskID  string             `json:"kioskId"`
	LockerNo int                `json:"lockerNo,omitempty"`
	Category model.HelpCategory `json:"category"`
	Note     string             `json:"note,omitempty"`
	Status   model.HelpStatus   `json:"status"`
}

// HelpStatusUpdated reports a help request changing status, e.g. when staff
// pick it up or resolve it.
type HelpStatusUpdated struct {
	ID             string           `json:"id"`
	Status         model.HelpStatus `json:"status"`
	PreviousStatus model.HelpStatus `json:"previousStatus,omitempty"`
	AssignedTo     string           `json:"assignedTo,omitempty"`
}

// CommandApplied carries the outcome of a command executed by a kiosk. It
// is delivered to the kiosk's room in the events namespace.
type CommandApplied struct {
	CommandID   string            `json:"commandId"`
	KioskID     string            `json:"kioskId"`
	CommandType model.CommandType `json:"commandType"`
	LockerIDs   []int             `json:"lockerIds,omitempty"`
	Success     bool              `json:"success"`
	Message     string            `json:"message,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Publisher is the interface for mirroring events to an external bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
