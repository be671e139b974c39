package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"galaxion/sync/internal/eventstore"
	"galaxion/sync/internal/game"
	"galaxion/sync/internal/logging"
)

// ManagerOption configures optional Manager behaviour at construction time.
type ManagerOption func(*Manager)

// WithManagerLogger attaches a logger for replay degradation warnings.
func WithManagerLogger(logger *logging.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager owns the collection of live aggregates. Aggregates are created
// lazily by replaying event-store history and evicted only on explicit
// removal. Each session gets its own entry lock so unrelated sessions never
// serialize on one another.
type Manager struct {
	store  *eventstore.Store
	logger *logging.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	replayFailures atomic.Uint64
}

// entry bundles an aggregate with its diff baseline and snapshot bookkeeping.
type entry struct {
	mu         sync.Mutex
	aggregate  *Aggregate
	eventCount uint64
	previous   *game.World
	ready      bool
}

// NewManager constructs a manager replaying from the provided store.
func NewManager(store *eventstore.Store, opts ...ManagerOption) *Manager {
	manager := &Manager{
		store:   store,
		logger:  logging.NewTestLogger(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	return manager
}

// GetOrCreate returns the live aggregate for the session, constructing it on
// first reference. A new aggregate is seeded from initial (or an empty
// default), fast-forwarded from the latest persisted snapshot when one
// exists, then replays the remaining event history. Replay is best effort: a
// failure degrades to the initial world with a warning and a surfaced
// counter rather than failing the operation.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string, initial *game.World) (*Aggregate, error) {
	if m == nil {
		return nil, errors.New("manager is nil")
	}
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return nil, errors.New("session id must not be empty")
	}

	ent := m.entry(trimmed)
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.ready {
		return ent.aggregate, nil
	}

	seed := initial.Clone()
	aggregate := NewAggregate(trimmed, seed)
	if err := m.replay(ctx, aggregate); err != nil {
		//1.- Degrade to the initial world instead of failing creation, but surface the fault.
		m.replayFailures.Add(1)
		m.logger.Warn("session replay failed, starting from initial world",
			logging.String("session_id", trimmed),
			logging.Error(err))
		aggregate = NewAggregate(trimmed, initial.Clone())
	}
	ent.aggregate = aggregate
	ent.eventCount = aggregate.Version()
	ent.previous = aggregate.WorldCopy()
	ent.ready = true
	return aggregate, nil
}

// Get returns the live aggregate without creating one.
func (m *Manager) Get(sessionID string) (*Aggregate, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.RLock()
	ent, ok := m.entries[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if !ent.ready {
		return nil, false
	}
	return ent.aggregate, true
}

// Remove evicts the session from memory. Persisted events are untouched.
func (m *Manager) Remove(sessionID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.entries, sessionID)
	m.mu.Unlock()
}

// Sessions lists the ids of live sessions in sorted order.
func (m *Manager) Sessions() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// IncrementEventCount bumps the session's processed-event counter used for
// snapshot cadence and returns the new total.
func (m *Manager) IncrementEventCount(sessionID string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	ent, ok := m.entries[sessionID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	ent.eventCount++
	return ent.eventCount
}

// SetPreviousWorldState stores the diff baseline for the session. The stored
// value is always a defensive deep copy so later mutation of the live world
// cannot corrupt the baseline.
func (m *Manager) SetPreviousWorldState(sessionID string, world *game.World) {
	if m == nil || world == nil {
		return
	}
	m.mu.RLock()
	ent, ok := m.entries[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	ent.mu.Lock()
	ent.previous = world.Clone()
	ent.mu.Unlock()
}

// PreviousWorldState returns a copy of the stored diff baseline, or nil when
// none has been recorded.
func (m *Manager) PreviousWorldState(sessionID string) *game.World {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	ent, ok := m.entries[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.previous.Clone()
}

// ReplayFailures reports how many aggregate creations degraded to the initial
// world because history could not be replayed.
func (m *Manager) ReplayFailures() uint64 {
	if m == nil {
		return 0
	}
	return m.replayFailures.Load()
}

func (m *Manager) entry(sessionID string) *entry {
	m.mu.RLock()
	ent, ok := m.entries[sessionID]
	m.mu.RUnlock()
	if ok {
		return ent
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ent, ok = m.entries[sessionID]; ok {
		return ent
	}
	ent = &entry{}
	m.entries[sessionID] = ent
	return ent
}

func (m *Manager) replay(ctx context.Context, aggregate *Aggregate) error {
	if m.store == nil {
		return nil
	}
	sessionID := aggregate.SessionID()

	var after uint64
	world, version, err := m.store.LoadSnapshot(ctx, sessionID)
	switch {
	case err == nil:
		//1.- Fast-forward from the snapshot so replay cost stays bounded.
		aggregate.LoadFromSnapshot(world, version)
		after = version
	case errors.Is(err, eventstore.ErrNoSnapshot):
	default:
		return err
	}

	envelopes, err := m.store.EventsSince(ctx, sessionID, after)
	if err != nil {
		return err
	}
	events := make([]game.Event, 0, len(envelopes))
	for _, envelope := range envelopes {
		events = append(events, envelope.Event)
	}
	return aggregate.ReplayEvents(events)
}
