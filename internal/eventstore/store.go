// Package eventstore is the TTL-bounded event log behind replay-on-connect.
//
// Events are kept in persistence order in a fixed-capacity ring. When the
// ring is full the oldest event is overwritten. A background sweeper
// periodically compacts out expired entries; expired entries that have not
// been swept yet are filtered at read time.
package eventstore

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mredag/eformLockerRoom-sub013/internal/events"
	"github.com/mredag/eformLockerRoom-sub013/internal/metrics"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

const (
	DefaultTTL           = 24 * time.Hour
	DefaultMaxEvents     = 10000
	DefaultSweepInterval = 5 * time.Minute
)

// Options configures a Store. Zero values select the defaults.
type Options struct {
	DefaultTTL    time.Duration
	MaxEvents     int
	SweepInterval time.Duration
	Metrics       *metrics.Metrics
	Logger        *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Query selects events for replay. Empty fields do not filter.
type Query struct {
	Namespace      string
	Room           string
	EventTypes     []model.EventType
	Since          time.Time // inclusive, compared against persistence time
	Limit          int       // <= 0 means unlimited
	IncludeExpired bool
}

// Statistics summarizes the live (non-expired) contents of the store.
type Statistics struct {
	TotalEvents       int            `json:"total_events"`
	EventsByType      map[string]int `json:"events_by_type"`
	EventsByNamespace map[string]int `json:"events_by_namespace"`
}

// Store is an in-memory, capacity-bounded event log.
type Store struct {
	mu      sync.RWMutex
	ring    []model.StoredEvent
	pos     int // next write position
	n       int // number of valid entries
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger

	sweepInterval time.Duration
	sweepStop     chan struct{}
	sweepDone     chan struct{}
}

// New creates an empty store.
func New(opts Options) *Store {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = DefaultMaxEvents
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		ring:          make([]model.StoredEvent, opts.MaxEvents),
		ttl:           opts.DefaultTTL,
		now:           opts.Now,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		sweepInterval: opts.SweepInterval,
	}
}

// Persist validates e and appends it with expiry now+ttl. A non-positive ttl
// selects the store default. When the store is full the oldest event is
// evicted.
func (s *Store) Persist(e *model.Event, ttl time.Duration) (*model.StoredEvent, error) {
	if err := events.Validate(e); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	s.mu.Lock()
	now := s.now()
	se := model.StoredEvent{Event: e, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	evicted := s.n == len(s.ring)
	s.ring[s.pos] = se
	s.pos = (s.pos + 1) % len(s.ring)
	if !evicted {
		s.n++
	}
	n := s.n
	s.mu.Unlock()

	if evicted {
		s.metrics.Evicted("capacity", 1)
	}
	s.metrics.SetStored(n)
	return &se, nil
}

// Replay returns the events matching q in persistence order, oldest first,
// truncated to the first q.Limit matches.
func (s *Store) Replay(q Query) []*model.Event {
	var types map[model.EventType]bool
	if len(q.EventTypes) > 0 {
		types = make(map[model.EventType]bool, len(q.EventTypes))
		for _, t := range q.EventTypes {
			types[t] = true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []*model.Event
	s.each(func(se *model.StoredEvent) bool {
		e := se.Event
		switch {
		case !q.IncludeExpired && se.Expired(now):
		case q.Namespace != "" && e.Namespace != q.Namespace:
		case q.Room != "" && e.Room != q.Room:
		case types != nil && !types[e.Type]:
		case !q.Since.IsZero() && se.CreatedAt.Before(q.Since):
		default:
			out = append(out, e)
		}
		return q.Limit <= 0 || len(out) < q.Limit
	})
	return out
}

// Statistics counts live events by type and namespace.
func (s *Store) Statistics() Statistics {
	st := Statistics{
		EventsByType:      make(map[string]int),
		EventsByNamespace: make(map[string]int),
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	s.each(func(se *model.StoredEvent) bool {
		if se.Expired(now) {
			return true
		}
		st.TotalEvents++
		st.EventsByType[string(se.Event.Type)]++
		st.EventsByNamespace[se.Event.Namespace]++
		return true
	})
	return st
}

// Snapshot returns a copy of every stored entry, expired or not, oldest
// first.
func (s *Store) Snapshot() []model.StoredEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.StoredEvent, 0, s.n)
	s.each(func(se *model.StoredEvent) bool {
		out = append(out, *se)
		return true
	})
	return out
}

// Len returns the number of entries currently held, including expired ones
// not yet swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

// each walks the ring oldest to newest until fn returns false. Callers hold
// s.mu.
func (s *Store) each(fn func(*model.StoredEvent) bool) {
	start := s.pos - s.n
	if start < 0 {
		start += len(s.ring)
	}
	for i := range s.n {
		if !fn(&s.ring[(start+i)%len(s.ring)]) {
			return
		}
	}
}

// Sweep removes expired entries and returns how many were dropped.
func (s *Store) Sweep() int {
	s.mu.Lock()
	now := s.now()
	kept := make([]model.StoredEvent, 0, s.n)
	s.each(func(se *model.StoredEvent) bool {
		if !se.Expired(now) {
			kept = append(kept, *se)
		}
		return true
	})
	removed := s.n - len(kept)
	if removed > 0 {
		clear(s.ring)
		copy(s.ring, kept)
		s.n = len(kept)
		s.pos = s.n % len(s.ring)
	}
	n := s.n
	s.mu.Unlock()

	s.metrics.Evicted("expired", removed)
	s.metrics.SetStored(n)
	return removed
}

// Start launches the background sweeper. Call Stop to shut it down.
func (s *Store) Start() {
	if s.sweepStop != nil {
		return
	}
	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})
	go s.sweepLoop()
	s.logger.Info("eventstore: sweeper started", "interval", s.sweepInterval)
}

// Stop shuts down the sweeper goroutine.
func (s *Store) Stop() {
	if s.sweepStop != nil {
		close(s.sweepStop)
		<-s.sweepDone
		s.sweepStop = nil
		s.sweepDone = nil
	}
}

func (s *Store) sweepLoop() {
	defer close(s.sweepDone)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("eventstore: swept expired events", "count", n)
			}
		}
	}
}
