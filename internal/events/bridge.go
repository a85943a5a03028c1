package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

// Emitter runs an event through validate, persist and broadcast.
type Emitter interface {
	Emit(ctx context.Context, e *model.Event) error
}

// IngestMessage is the payload external producers publish on SubjectIngest.
type IngestMessage struct {
	Type      model.EventType `json:"type"`
	Namespace string          `json:"namespace,omitempty"`
	Room      string          `json:"room,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Bridge feeds events published by out-of-process producers into the
// local emit pipeline.
type Bridge struct {
	emitter Emitter
	logger  *slog.Logger
}

// NewBridge creates an ingest bridge emitting through e.
func NewBridge(e Emitter, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{emitter: e, logger: logger}
}

// Handle validates one ingest payload and emits it.
func (b *Bridge) Handle(ctx context.Context, raw []byte) error {
	var msg IngestMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return model.NewValidationError("message", fmt.Sprintf("invalid JSON: %v", err))
	}
	e, err := NewEvent(msg.Type, msg.Data, msg.Namespace, msg.Room)
	if err != nil {
		return err
	}
	return b.emitter.Emit(ctx, e)
}

// Run subscribes to SubjectIngest and emits every valid message. It blocks
// until ctx is cancelled or the subscription closes.
func (b *Bridge) Run(ctx context.Context, sub Subscriber) error {
	ch, cancel, err := sub.Subscribe(SubjectIngest)
	if err != nil {
		return fmt.Errorf("ingest: subscribe: %w", err)
	}
	defer cancel()

	b.logger.Info("ingest: bridge started", "subject", SubjectIngest)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("ingest: bridge stopping")
			return nil
		case raw, ok := <-ch:
			if !ok {
				b.logger.Info("ingest: subscription channel closed")
				return nil
			}
			if err := b.Handle(ctx, raw); err != nil {
				b.logger.Warn("ingest: dropped message", "err", err)
			}
		}
	}
}
