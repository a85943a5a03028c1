package model

import "fmt"

// LockerState is the physical/logical state of a locker.
type LockerState string

const (
	LockerClosed      LockerState = "closed"
	LockerOpen        LockerState = "open"
	LockerReserved    LockerState = "reserved"
	LockerMaintenance LockerState = "maintenance"
	LockerError       LockerState = "error"
)

// IsValid checks whether the locker state is a known value.
func (s LockerState) IsValid() bool {
	switch s {
	case LockerClosed, LockerOpen, LockerReserved, LockerMaintenance, LockerError:
		return true
	}
	return false
}

// HelpCategory classifies a help request raised from a kiosk.
type HelpCategory string

const (
	HelpAccessIssue     HelpCategory = "access_issue"
	HelpHardwareProblem HelpCategory = "hardware_problem"
	HelpPaymentIssue    HelpCategory = "payment_issue"
	HelpOther           HelpCategory = "other"
)

// IsValid checks whether the help category is a known value.
func (c HelpCategory) IsValid() bool {
	switch c {
	case HelpAccessIssue, HelpHardwareProblem, HelpPaymentIssue, HelpOther:
		return true
	}
	return false
}

// HelpStatus is the lifecycle state of a help request.
type HelpStatus string

const (
	HelpOpen     HelpStatus = "open"
	HelpAssigned HelpStatus = "assigned"
	HelpResolved HelpStatus = "resolved"
)

// IsValid checks whether the help status is a known value.
func (s HelpStatus) IsValid() bool {
	switch s {
	case HelpOpen, HelpAssigned, HelpResolved:
		return true
	}
	return false
}

// ResourceKey returns the lock key for a locker on a kiosk ("kioskId:resourceId").
func ResourceKey(kioskID string, resourceID int) string {
	return fmt.Sprintf("%s:%d", kioskID, resourceID)
}
