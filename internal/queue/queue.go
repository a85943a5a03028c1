// Package queue defines the command queue that sits between admission and
// the kiosk hardware workers, and an in-memory implementation of it.
package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mredag/eformLockerRoom-sub013/internal/idgen"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

// Queue is the command queue consumed by the admission gate and the
// dispatcher. Implementations must be safe for concurrent use.
type Queue interface {
	// Enqueue stores a pending command and returns its id.
	Enqueue(ctx context.Context, kioskID string, t model.CommandType, payload model.CommandPayload) (string, error)

	// GetPendingCommands returns the pending and executing commands for a
	// kiosk, oldest first.
	GetPendingCommands(ctx context.Context, kioskID string) ([]*model.Command, error)

	MarkCommandCompleted(ctx context.Context, commandID string) error
	MarkCommandFailed(ctx context.Context, commandID, errMsg string) error

	// GetCommand returns model.ErrNotFound for unknown ids.
	GetCommand(ctx context.Context, commandID string) (*model.Command, error)
}

// Memory is a process-local Queue.
type Memory struct {
	mu       sync.Mutex
	commands map[string]*model.Command
	order    []string
	now      func() time.Time
}

var _ Queue = (*Memory)(nil)

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{
		commands: make(map[string]*model.Command),
		now:      time.Now,
	}
}

func (m *Memory) Enqueue(_ context.Context, kioskID string, t model.CommandType, payload model.CommandPayload) (string, error) {
	id, err := idgen.CommandID()
	if err != nil {
		return "", fmt.Errorf("generating command id: %w", err)
	}
	now := m.now().UTC()
	c := &model.Command{
		ID:        id,
		KioskID:   kioskID,
		Type:      t,
		Payload:   model.CommandPayload{LockerIDs: slices.Clone(payload.LockerIDs), StaffUser: payload.StaffUser, Reason: payload.Reason},
		Status:    model.CommandPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.commands[id] = c
	m.order = append(m.order, id)
	m.mu.Unlock()
	return id, nil
}

func (m *Memory) GetPendingCommands(_ context.Context, kioskID string) ([]*model.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Command
	for _, id := range m.order {
		c := m.commands[id]
		if c.KioskID == kioskID && c.Status.IsPending() {
			out = append(out, clone(c))
		}
	}
	return out, nil
}

func (m *Memory) MarkCommandCompleted(_ context.Context, commandID string) error {
	return m.finish(commandID, model.CommandCompleted, "")
}

func (m *Memory) MarkCommandFailed(_ context.Context, commandID, errMsg string) error {
	return m.finish(commandID, model.CommandFailed, errMsg)
}

func (m *Memory) GetCommand(_ context.Context, commandID string) (*model.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.commands[commandID]
	if !ok {
		return nil, fmt.Errorf("command %s: %w", commandID, model.ErrNotFound)
	}
	return clone(c), nil
}

func (m *Memory) finish(commandID string, status model.CommandStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.commands[commandID]
	if !ok {
		return fmt.Errorf("command %s: %w", commandID, model.ErrNotFound)
	}
	if !c.Status.IsPending() {
		return fmt.Errorf("command %s is %s: %w", commandID, c.Status, model.ErrAlreadySettled)
	}
	now := m.now().UTC()
	c.Status = status
	c.Error = errMsg
	c.UpdatedAt = now
	c.CompletedAt = &now
	return nil
}

func clone(c *model.Command) *model.Command {
	cp := *c
	cp.Payload.LockerIDs = slices.Clone(c.Payload.LockerIDs)
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
