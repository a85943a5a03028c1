package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mredag/eformLockerRoom-sub013/internal/idgen"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

// kind describes one registered event type: where it is broadcast by default
// and how its payload is validated.
type kind struct {
	namespace string
	validate  func(raw json.RawMessage) error
}

var kinds = map[model.EventType]kind{
	model.EventLockerStateChanged: {model.NamespaceLockers, decodeAndValidate(validateLockerStateChanged)},
	model.EventHelpRequested:      {model.NamespaceHelp, decodeAndValidate(validateHelpRequested)},
	model.EventHelpStatusUpdated:  {model.NamespaceHelp, decodeAndValidate(validateHelpStatusUpdated)},
	model.EventCommandApplied:     {model.NamespaceEvents, decodeAndValidate(validateCommandApplied)},
}

func decodeAndValidate[T any](fn func(*T) error) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return model.NewValidationError("data", fmt.Sprintf("invalid payload: %v", err))
		}
		return fn(&v)
	}
}

// DefaultNamespace returns the namespace an event type is broadcast to when
// the producer does not pick one.
func DefaultNamespace(t model.EventType) string {
	return kinds[t].namespace
}

// NewLockerStateChangedEvent builds a validated locker_state_changed event.
// room may be empty.
func NewLockerStateChangedEvent(d LockerStateChanged, room string) (*model.Event, error) {
	if err := validateLockerStateChanged(&d); err != nil {
		return nil, err
	}
	return build(model.EventLockerStateChanged, d, room)
}

// NewHelpRequestedEvent builds a validated help_requested event. An empty
// status defaults to open.
func NewHelpRequestedEvent(d HelpRequested, room string) (*model.Event, error) {
	if d.Status == "" {
		d.Status = model.HelpOpen
	}
	if err := validateHelpRequested(&d); err != nil {
		return nil, err
	}
	return build(model.EventHelpRequested, d, room)
}

// NewHelpStatusUpdatedEvent builds a validated help_status_updated event.
func NewHelpStatusUpdatedEvent(d HelpStatusUpdated, room string) (*model.Event, error) {
	if err := validateHelpStatusUpdated(&d); err != nil {
		return nil, err
	}
	return build(model.EventHelpStatusUpdated, d, room)
}

// NewCommandAppliedEvent builds a validated command_applied event.
func NewCommandAppliedEvent(d CommandApplied, room string) (*model.Event, error) {
	if err := validateCommandApplied(&d); err != nil {
		return nil, err
	}
	return build(model.EventCommandApplied, d, room)
}

// NewEvent builds an envelope of type t from an untyped payload, validating
// the payload against the type's schema. An empty namespace selects the
// type's default.
func NewEvent(t model.EventType, data json.RawMessage, namespace, room string) (*model.Event, error) {
	k, ok := kinds[t]
	if !ok {
		return nil, model.NewValidationError("type", fmt.Sprintf("unknown event type %q", t))
	}
	if len(data) == 0 {
		return nil, model.NewValidationError("data", "is required")
	}
	if err := k.validate(data); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, model.NewValidationError("data", "contains invalid JSON")
	}
	e, err := envelope(t, json.RawMessage(buf.Bytes()), room)
	if err != nil {
		return nil, err
	}
	if namespace != "" {
		e.Namespace = namespace
	}
	if err := Validate(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks an envelope and its payload. It never mutates e.
func Validate(e *model.Event) error {
	if e == nil {
		return model.NewValidationError("event", "is required")
	}
	var ve model.ValidationError
	ve.Require("id", e.ID)
	ve.Require("version", e.Version)
	if e.Timestamp.IsZero() {
		ve.Add("timestamp", "is required")
	}
	if !strings.HasPrefix(e.Namespace, "/") {
		ve.Add("namespace", "must be an absolute path, got %q", e.Namespace)
	}
	k, ok := kinds[e.Type]
	if !ok {
		ve.Add("type", "unknown event type %q", e.Type)
		return &ve
	}
	if ve.HasErrors() {
		return &ve
	}
	if len(e.Data) == 0 {
		return model.NewValidationError("data", "is required")
	}
	return k.validate(e.Data)
}

// Serialize encodes an event envelope as JSON.
func Serialize(e *model.Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}
	return data, nil
}

// Deserialize decodes and validates an event envelope.
func Deserialize(data []byte) (*model.Event, error) {
	var e model.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, model.NewValidationError("event", fmt.Sprintf("invalid JSON: %v", err))
	}
	if err := Validate(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

func build(t model.EventType, payload any, room string) (*model.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", t, err)
	}
	return envelope(t, data, room)
}

func envelope(t model.EventType, data json.RawMessage, room string) (*model.Event, error) {
	id, err := idgen.EventID()
	if err != nil {
		return nil, err
	}
	return &model.Event{
		ID:        id,
		Type:      t,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Namespace: kinds[t].namespace,
		Room:      strings.TrimSpace(room),
		Version:   model.EventVersion,
	}, nil
}

func validateLockerStateChanged(d *LockerStateChanged) error {
	var ve model.ValidationError
	ve.Require("lockerId", d.LockerID)
	if !d.OldState.IsValid() {
		ve.Add("oldState", "invalid value %q", d.OldState)
	}
	if !d.NewState.IsValid() {
		ve.Add("newState", "invalid value %q", d.NewState)
	}
	return ve.Err()
}

func validateHelpRequested(d *HelpRequested) error {
	var ve model.ValidationError
	ve.Require("id", d.ID)
	ve.Require("kioskId", d.KioskID)
	if !d.Category.IsValid() {
		ve.Add("category", "invalid value %q", d.Category)
	}
	if !d.Status.IsValid() {
		ve.Add("status", "invalid value %q", d.Status)
	}
	if d.LockerNo < 0 {
		ve.Add("lockerNo", "must not be negative, got %d", d.LockerNo)
	}
	return ve.Err()
}

func validateHelpStatusUpdated(d *HelpStatusUpdated) error {
	var ve model.ValidationError
	ve.Require("id", d.ID)
	if !d.Status.IsValid() {
		ve.Add("status", "invalid value %q", d.Status)
	}
	if d.PreviousStatus != "" && !d.PreviousStatus.IsValid() {
		ve.Add("previousStatus", "invalid value %q", d.PreviousStatus)
	}
	if d.Status == model.HelpAssigned && strings.TrimSpace(d.AssignedTo) == "" {
		ve.Add("assignedTo", "is required when status is assigned")
	}
	return ve.Err()
}

func validateCommandApplied(d *CommandApplied) error {
	var ve model.ValidationError
	ve.Require("commandId", d.CommandID)
	ve.Require("kioskId", d.KioskID)
	if !d.CommandType.IsValid() {
		ve.Add("commandType", "invalid value %q", d.CommandType)
	}
	if !d.Success && strings.TrimSpace(d.Error) == "" {
		ve.Add("error", "is required when success is false")
	}
	return ve.Err()
}
