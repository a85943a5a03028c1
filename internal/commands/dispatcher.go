// Package commands runs staff commands through admission, the command queue
// and, on completion, the command_applied event.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mredag/eformLockerRoom-sub013/internal/admission"
	"github.com/mredag/eformLockerRoom-sub013/internal/events"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
	"github.com/mredag/eformLockerRoom-sub013/internal/queue"
)

// Emitter publishes the command_applied event.
type Emitter interface {
	EmitCommandApplied(ctx context.Context, d events.CommandApplied, room string) (*model.Event, error)
}

// Request targets a single locker.
type Request struct {
	KioskID   string            `json:"kiosk_id"`
	Type      model.CommandType `json:"type"`
	LockerID  int               `json:"locker_id"`
	StaffUser string            `json:"staff_user,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// BulkRequest targets several lockers of one kiosk. It is admitted as a
// whole or not at all.
type BulkRequest struct {
	KioskID   string            `json:"kiosk_id"`
	Type      model.CommandType `json:"type"`
	LockerIDs []int             `json:"locker_ids"`
	StaffUser string            `json:"staff_user,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// Result is reported by the kiosk worker once a command has run.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Dispatcher holds each admitted command's locks until it completes.
type Dispatcher struct {
	gate    *admission.Gate
	queue   queue.Queue
	emitter Emitter
	logger  *slog.Logger

	mu   sync.Mutex
	held map[string][]string // command id -> resource keys
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(gate *admission.Gate, q queue.Queue, emitter Emitter, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		gate:    gate,
		queue:   q,
		emitter: emitter,
		logger:  logger,
		held:    make(map[string][]string),
	}
}

// Dispatch admits and enqueues a single-locker command.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*model.Command, error) {
	return d.DispatchBulk(ctx, BulkRequest{
		KioskID:   req.KioskID,
		Type:      req.Type,
		LockerIDs: []int{req.LockerID},
		StaffUser: req.StaffUser,
		Reason:    req.Reason,
	})
}

// DispatchBulk admits every locker in req or none, then enqueues one
// command covering them all. If the enqueue fails the locks are released.
func (d *Dispatcher) DispatchBulk(ctx context.Context, req BulkRequest) (*model.Command, error) {
	req.KioskID = strings.TrimSpace(req.KioskID)
	if !req.Type.IsValid() {
		return nil, model.NewValidationError("type", fmt.Sprintf("invalid command type %q", req.Type))
	}

	keys, err := d.gate.AdmitBatch(ctx, req.KioskID, req.LockerIDs)
	if err != nil {
		return nil, err
	}

	payload := model.CommandPayload{LockerIDs: req.LockerIDs, StaffUser: req.StaffUser, Reason: req.Reason}
	id, err := d.queue.Enqueue(ctx, req.KioskID, req.Type, payload)
	if err != nil {
		d.gate.ReleaseAll(keys)
		d.logger.Error("commands: enqueue failed", "kiosk_id", req.KioskID, "err", err)
		return nil, &model.UpstreamError{Op: "command queue: enqueue", Err: err}
	}

	d.mu.Lock()
	d.held[id] = keys
	d.mu.Unlock()

	d.logger.Info("commands: dispatched",
		"command_id", id, "kiosk_id", req.KioskID, "type", req.Type, "locker_ids", req.LockerIDs)

	cmd, err := d.queue.GetCommand(ctx, id)
	if err != nil {
		// The command is queued; report what was enqueued.
		d.logger.Warn("commands: reading back command failed", "command_id", id, "err", err)
		return &model.Command{ID: id, KioskID: req.KioskID, Type: req.Type, Payload: payload, Status: model.CommandPending}, nil
	}
	return cmd, nil
}

// Complete records a command's outcome, releases its locks and emits
// command_applied to the kiosk's room in the events namespace.
func (d *Dispatcher) Complete(ctx context.Context, commandID string, res Result) (*model.Event, error) {
	if !res.Success && strings.TrimSpace(res.Error) == "" {
		return nil, model.NewValidationError("error", "is required when success is false")
	}

	cmd, err := d.queue.GetCommand(ctx, commandID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		return nil, &model.UpstreamError{Op: "command queue: get command", Err: err}
	}
	if !cmd.Status.IsPending() {
		return nil, &model.ConflictError{Key: commandID, Reason: fmt.Sprintf("command already %s", cmd.Status)}
	}

	if res.Success {
		err = d.queue.MarkCommandCompleted(ctx, commandID)
	} else {
		err = d.queue.MarkCommandFailed(ctx, commandID, res.Error)
	}
	switch {
	case errors.Is(err, model.ErrAlreadySettled):
		// Another completion won the race after the status check above.
		return nil, &model.ConflictError{Key: commandID, Reason: "command already settled"}
	case errors.Is(err, model.ErrNotFound):
		return nil, err
	case err != nil:
		return nil, &model.UpstreamError{Op: "command queue: mark command", Err: err}
	}

	d.release(cmd)

	ev, err := d.emitter.EmitCommandApplied(ctx, events.CommandApplied{
		CommandID:   cmd.ID,
		KioskID:     cmd.KioskID,
		CommandType: cmd.Type,
		LockerIDs:   cmd.Payload.LockerIDs,
		Success:     res.Success,
		Message:     res.Message,
		Error:       res.Error,
	}, cmd.KioskID)
	if err != nil {
		return nil, fmt.Errorf("emitting command_applied for %s: %w", commandID, err)
	}
	d.logger.Info("commands: completed", "command_id", commandID, "success", res.Success)
	return ev, nil
}

// release drops the locks taken for cmd. Commands admitted before a
// restart are not in d.held; their keys are derived from the payload.
func (d *Dispatcher) release(cmd *model.Command) {
	d.mu.Lock()
	keys, ok := d.held[cmd.ID]
	delete(d.held, cmd.ID)
	d.mu.Unlock()

	if !ok {
		for _, id := range cmd.Payload.LockerIDs {
			keys = append(keys, model.ResourceKey(cmd.KioskID, id))
		}
	}
	d.gate.ReleaseAll(keys)
}

// InFlight returns the number of commands holding locks.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.held)
}
