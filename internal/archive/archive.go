// Package archive periodically exports the event store to durable storage.
package archive

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Destination is the interface for an archive target.
type Destination interface {
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// Scheduler runs periodic exports to one or more destinations.
type Scheduler struct {
	source       Snapshotter
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger
	now          func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports source to the given
// destinations at the specified interval.
func NewScheduler(source Snapshotter, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:       source,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		now:          time.Now,
	}
}

// Start begins periodic export. The first export runs one interval after
// Start; Stop runs a final one.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler, waits for an in-flight export, then writes a
// final snapshot so events persisted since the last tick are kept.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.ExportOnce(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ExportOnce(ctx)
		}
	}
}

// ExportOnce writes the current snapshot to every destination and returns
// the number of destinations that accepted it.
func (s *Scheduler) ExportOnce(ctx context.Context) int {
	var buf bytes.Buffer
	n, err := ExportJSONL(s.source, &buf, s.now().UTC())
	if err != nil {
		s.logger.Error("archive: export failed", "err", err)
		return 0
	}
	data := buf.Bytes()

	ok := 0
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			s.logger.Error("archive: destination write failed", "destination", i, "err", err)
			continue
		}
		ok++
	}

	s.logger.Info("archive: export completed", "events", n, "destinations", ok, "bytes", len(data))
	return ok
}
