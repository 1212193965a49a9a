package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streamloft/speech-stream-service/internal/metrics"
	"github.com/streamloft/speech-stream-service/internal/processor"
)

// ErrPoolExhausted is returned by Checkout when every unit is already
// bound to a session. Callers must surface the failure rather than retry.
var ErrPoolExhausted = errors.New("no processing units available")

// record tracks one unit bound to a session id. The record mutex
// serializes use of the unit; lastAccess is guarded by the pool mutex.
type record struct {
	unit       processor.Unit
	lastAccess time.Time
	mu         sync.Mutex
}

// Lease grants serialized access to a checked-out unit.
type Lease struct {
	rec *record
}

// Do runs fn with exclusive access to the leased unit. Concurrent calls
// against the same session id execute one at a time.
func (l *Lease) Do(fn func(processor.Unit) error) error {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	return fn(l.rec.unit)
}

// Pool maintains a fixed set of processing units and binds them to
// session ids on demand. Units idle past the TTL are reclaimed by a
// background reaper.
type Pool struct {
	capacity int
	ttl      time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	available []processor.Unit
	sessions  map[string]*record
	evictions uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Stats is a snapshot of pool occupancy for monitoring.
type Stats struct {
	Capacity       int    `json:"capacity"`
	ActiveSessions int    `json:"active_sessions"`
	Available      int    `json:"available"`
	Evictions      uint64 `json:"evictions"`
}

// New pre-builds capacity units through the factory and starts the
// reaper. Construction fails if any unit cannot be built.
func New(factory processor.Factory, capacity int, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) (*Pool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("pool capacity must be positive, got %d", capacity)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("pool ttl must be positive, got %s", ttl)
	}

	available := make([]processor.Unit, 0, capacity)
	for i := 0; i < capacity; i++ {
		unit, err := factory()
		if err != nil {
			return nil, fmt.Errorf("failed to build unit %d/%d: %w", i+1, capacity, err)
		}
		available = append(available, unit)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		capacity:  capacity,
		ttl:       ttl,
		logger:    logger,
		metrics:   m,
		available: available,
		sessions:  make(map[string]*record),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go p.reapLoop()

	m.SetPoolOccupancy(0, capacity)
	logger.Info("Unit pool started",
		slog.Int("capacity", capacity),
		slog.Duration("ttl", ttl),
	)

	return p, nil
}

// Checkout binds a unit to the session id, or refreshes the binding if
// one already exists. The same id always receives the same unit until
// it is released or evicted.
func (p *Pool) Checkout(sessionID string) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rec, exists := p.sessions[sessionID]; exists {
		rec.lastAccess = time.Now()
		return &Lease{rec: rec}, nil
	}

	if len(p.available) == 0 {
		p.metrics.RecordPoolExhaustion()
		p.logger.Warn("Unit pool exhausted",
			slog.String("session_id", sessionID),
			slog.Int("active_sessions", len(p.sessions)),
		)
		return nil, ErrPoolExhausted
	}

	unit := p.available[len(p.available)-1]
	p.available = p.available[:len(p.available)-1]

	rec := &record{unit: unit, lastAccess: time.Now()}
	p.sessions[sessionID] = rec
	p.metrics.SetPoolOccupancy(len(p.sessions), len(p.available))

	p.logger.Debug("Unit checked out",
		slog.String("session_id", sessionID),
		slog.Int("available", len(p.available)),
	)

	return &Lease{rec: rec}, nil
}

// Release clears the unit bound to the session id and returns it to the
// available set. Returns false if the id has no active binding.
func (p *Pool) Release(sessionID string) bool {
	p.mu.Lock()
	rec, exists := p.sessions[sessionID]
	if !exists {
		p.mu.Unlock()
		return false
	}
	delete(p.sessions, sessionID)
	p.mu.Unlock()

	p.recycle(sessionID, rec)
	return true
}

// IsActive reports whether the session id currently holds a unit.
func (p *Pool) IsActive(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, exists := p.sessions[sessionID]
	return exists
}

// GetStats returns a snapshot of pool occupancy.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Capacity:       p.capacity,
		ActiveSessions: len(p.sessions),
		Available:      len(p.available),
		Evictions:      p.evictions,
	}
}

// Stop halts the reaper and releases every active session.
func (p *Pool) Stop() {
	p.cancel()
	<-p.done

	p.mu.Lock()
	records := make(map[string]*record, len(p.sessions))
	for id, rec := range p.sessions {
		records[id] = rec
	}
	p.sessions = make(map[string]*record)
	p.mu.Unlock()

	for id, rec := range records {
		p.recycle(id, rec)
	}

	p.logger.Info("Unit pool stopped",
		slog.Int("released_sessions", len(records)),
		slog.Uint64("total_evictions", p.evictions),
	)
}

// recycle clears a detached record's unit and puts it back in the
// available set. Waits for any in-flight lease to finish first. Until the
// append below runs, the unit counts toward neither sessions nor
// available, so a concurrent Checkout for a new id can see the pool
// exhausted while a slow Clear is still running.
func (p *Pool) recycle(sessionID string, rec *record) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := rec.unit.Clear(context.Background()); err != nil {
		p.logger.Warn("Failed to clear unit on release",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	p.mu.Lock()
	p.available = append(p.available, rec.unit)
	p.metrics.SetPoolOccupancy(len(p.sessions), len(p.available))
	p.mu.Unlock()
}

// reapLoop evicts sessions whose last checkout is older than the TTL.
func (p *Pool) reapLoop() {
	defer close(p.done)

	ticker := time.NewTicker(p.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.reapExpired()
		}
	}
}

func (p *Pool) reapExpired() {
	now := time.Now()

	p.mu.Lock()
	expired := make(map[string]*record)
	for id, rec := range p.sessions {
		if now.Sub(rec.lastAccess) > p.ttl {
			expired[id] = rec
			delete(p.sessions, id)
		}
	}
	p.evictions += uint64(len(expired))
	p.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	for range expired {
		p.metrics.RecordPoolEviction()
	}

	p.logger.Info("Evicting idle sessions",
		slog.Int("expired_count", len(expired)),
		slog.Duration("ttl", p.ttl),
	)

	for id, rec := range expired {
		p.recycle(id, rec)
	}
}
