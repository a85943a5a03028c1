package model

import "time"

// CommandType is the kind of actuation requested of a kiosk.
type CommandType string

const (
	CommandOpen        CommandType = "open"
	CommandClose       CommandType = "close"
	CommandReset       CommandType = "reset"
	CommandBuzzer      CommandType = "buzzer"
	CommandStatusCheck CommandType = "status_check"
)

// IsValid checks whether the command type is a known value.
func (t CommandType) IsValid() bool {
	switch t {
	case CommandOpen, CommandClose, CommandReset, CommandBuzzer, CommandStatusCheck:
		return true
	}
	return false
}

// CommandStatus is the lifecycle state of a queued command.
type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandExecuting CommandStatus = "executing"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
)

// IsPending reports whether the command may still actuate hardware.
func (s CommandStatus) IsPending() bool {
	return s == CommandPending || s == CommandExecuting
}

// CommandPayload carries the targets and context of a command.
type CommandPayload struct {
	LockerIDs []int  `json:"locker_ids"`
	StaffUser string `json:"staff_user,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Command is a unit of work owned by the command queue.
type Command struct {
	ID          string         `json:"id"`
	KioskID     string         `json:"kiosk_id"`
	Type        CommandType    `json:"type"`
	Payload     CommandPayload `json:"payload"`
	Status      CommandStatus  `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Targets reports whether the command touches the given locker.
func (c *Command) Targets(resourceID int) bool {
	for _, id := range c.Payload.LockerIDs {
		if id == resourceID {
			return true
		}
	}
	return false
}
