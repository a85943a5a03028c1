// Package admission guards physical actuation: a command for a locker is
// only admitted when no other command holds that locker and none is pending
// in the command queue.
package admission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mredag/eformLockerRoom-sub013/internal/metrics"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

const (
	// DefaultTTL bounds how long a lock survives without release, so a
	// crashed holder cannot wedge a locker.
	DefaultTTL = 90 * time.Second

	DefaultMaxResourceID = 30
)

// PendingLister is the part of the command queue the gate consults.
type PendingLister interface {
	GetPendingCommands(ctx context.Context, kioskID string) ([]*model.Command, error)
}

// Options configures a Gate. Zero values select the defaults.
type Options struct {
	TTL           time.Duration
	MaxResourceID int
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	Now           func() time.Time
}

// Gate is the per-resource lock table plus the pending-duplicate check.
type Gate struct {
	mu    sync.Mutex
	locks map[string]time.Time // key -> acquired at

	pending PendingLister
	ttl     time.Duration
	maxID   int
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a gate consulting pending for duplicate commands.
func New(pending PendingLister, opts Options) *Gate {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxResourceID <= 0 {
		opts.MaxResourceID = DefaultMaxResourceID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gate{
		locks:   make(map[string]time.Time),
		pending: pending,
		ttl:     opts.TTL,
		maxID:   opts.MaxResourceID,
		now:     opts.Now,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// TTL returns the lock lifetime.
func (g *Gate) TTL() time.Duration { return g.ttl }

// MaxResourceID returns the highest valid resource id.
func (g *Gate) MaxResourceID() int { return g.maxID }

// TryAcquire records a lock on key unless a live one exists. Stale entries
// are reclaimed.
func (g *Gate) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.liveLocked(key, now) {
		return false
	}
	g.locks[key] = now
	g.metrics.SetLocksHeld(len(g.locks))
	return true
}

// Release drops the lock on key. Releasing an unheld key is a no-op.
func (g *Gate) Release(key string) {
	g.mu.Lock()
	delete(g.locks, key)
	g.metrics.SetLocksHeld(len(g.locks))
	g.mu.Unlock()
}

// ReleaseAll drops every key in keys.
func (g *Gate) ReleaseAll(keys []string) {
	g.mu.Lock()
	for _, k := range keys {
		delete(g.locks, k)
	}
	g.metrics.SetLocksHeld(len(g.locks))
	g.mu.Unlock()
}

// IsLocked reports whether key holds a live lock.
func (g *Gate) IsLocked(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.liveLocked(key, g.now())
}

// LockInfo returns when the live lock on key was acquired and when it
// expires. ok is false if no live lock exists.
func (g *Gate) LockInfo(key string) (acquiredAt, expiresAt time.Time, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	at, found := g.locks[key]
	if !found || !g.liveLocked(key, g.now()) {
		return time.Time{}, time.Time{}, false
	}
	return at, at.Add(g.ttl), true
}

// liveLocked must be called with g.mu held.
func (g *Gate) liveLocked(key string, now time.Time) bool {
	at, ok := g.locks[key]
	return ok && now.Sub(at) < g.ttl
}

// Admit checks and locks a single resource. On success it returns the held
// key; the caller must Release it once the command settles.
func (g *Gate) Admit(ctx context.Context, kioskID string, resourceID int) (string, error) {
	keys, err := g.AdmitBatch(ctx, kioskID, []int{resourceID})
	if err != nil {
		return "", err
	}
	return keys[0], nil
}

// AdmitBatch admits all of resourceIDs or none of them. Ids are validated
// for range and duplicates first. If any resource is locked or already has a
// pending command, the whole batch is rejected with a *model.ConflictError
// and no lock is taken. On success every key is locked and returned in
// input order.
func (g *Gate) AdmitBatch(ctx context.Context, kioskID string, resourceIDs []int) ([]string, error) {
	var ve model.ValidationError
	ve.Require("kiosk_id", kioskID)
	if ve.HasErrors() {
		g.metrics.Admission("invalid")
		return nil, &ve
	}
	if err := model.ValidateResourceIDs(resourceIDs, g.maxID); err != nil {
		g.metrics.Admission("invalid")
		return nil, err
	}

	keys := make([]string, len(resourceIDs))
	for i, id := range resourceIDs {
		keys[i] = model.ResourceKey(kioskID, id)
	}

	// The queue is consulted before taking g.mu. A command enqueued between
	// this check and the lock below is caught by the lock its dispatcher
	// still holds.
	pending, err := g.pending.GetPendingCommands(ctx, kioskID)
	if err != nil {
		g.metrics.Admission("error")
		g.logger.Error("admission: pending command lookup failed", "kiosk_id", kioskID, "err", err)
		return nil, &model.UpstreamError{Op: "command queue: get pending commands", Err: err}
	}
	for i, id := range resourceIDs {
		for _, c := range pending {
			if c.Targets(id) {
				g.metrics.Admission("pending")
				g.logger.Info("admission: rejected duplicate command",
					"key", keys[i], "pending_command", c.ID)
				return nil, &model.ConflictError{Key: keys[i], Reason: model.ConflictPending}
			}
		}
	}

	g.mu.Lock()
	now := g.now()
	for _, k := range keys {
		if g.liveLocked(k, now) {
			g.mu.Unlock()
			g.metrics.Admission("locked")
			g.logger.Info("admission: rejected locked resource", "key", k)
			return nil, &model.ConflictError{Key: k, Reason: model.ConflictLocked}
		}
	}
	for _, k := range keys {
		g.locks[k] = now
	}
	held := len(g.locks)
	g.mu.Unlock()

	g.metrics.SetLocksHeld(held)
	g.metrics.Admission("admitted")
	return keys, nil
}

// Sweep forgets stale locks and returns how many were dropped. Expired
// locks are already treated as absent; this only bounds the map.
func (g *Gate) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	n := 0
	for k := range g.locks {
		if !g.liveLocked(k, now) {
			delete(g.locks, k)
			n++
		}
	}
	g.metrics.SetLocksHeld(len(g.locks))
	return n
}
