// Package session owns the authoritative in-memory state for live sessions:
// one aggregate per session plus the manager that creates, replays and evicts
// them.
package session

import (
	"errors"
	"fmt"
	"sync"

	"galaxion/sync/internal/game"
)

// ErrNilEvent is returned when an aggregate is asked to apply a nil event.
var ErrNilEvent = errors.New("event must not be nil")

// Aggregate owns exactly one World, its version counter and the transient
// list of applied-but-not-yet-persisted events.
type Aggregate struct {
	mu          sync.Mutex
	sessionID   string
	world       *game.World
	version     uint64
	uncommitted []game.Event
}

// NewAggregate seeds an aggregate at version zero with the provided world, or
// an empty default when none is supplied.
func NewAggregate(sessionID string, initial *game.World) *Aggregate {
	world := initial
	if world == nil {
		world = &game.World{SessionID: sessionID}
	}
	return &Aggregate{sessionID: sessionID, world: world}
}

// SessionID names the session this aggregate is authoritative for.
func (a *Aggregate) SessionID() string {
	if a == nil {
		return ""
	}
	return a.sessionID
}

// Version reports the count of applied events.
func (a *Aggregate) Version() uint64 {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.version
}

// Apply mutates the world according to the event's rule, increments the
// version and records the event as uncommitted. Structural validation beyond
// the event's own rule is deliberately absent.
func (a *Aggregate) Apply(event game.Event) error {
	if a == nil {
		return errors.New("aggregate is nil")
	}
	if event == nil {
		return ErrNilEvent
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := event.Apply(a.world); err != nil {
		return fmt.Errorf("apply %s: %w", event.Kind(), err)
	}
	a.version++
	a.uncommitted = append(a.uncommitted, event)
	return nil
}

// ReplayEvents applies historical events in order and clears the uncommitted
// list, since replayed events are committed by definition.
func (a *Aggregate) ReplayEvents(events []game.Event) error {
	if a == nil {
		return errors.New("aggregate is nil")
	}
	for _, event := range events {
		if err := a.Apply(event); err != nil {
			return err
		}
	}
	a.mu.Lock()
	a.uncommitted = nil
	a.mu.Unlock()
	return nil
}

// LoadFromSnapshot adopts a precomputed world and version directly, bypassing
// replay. The aggregate takes ownership of the supplied world.
func (a *Aggregate) LoadFromSnapshot(world *game.World, version uint64) {
	if a == nil || world == nil {
		return
	}
	a.mu.Lock()
	a.world = world
	a.version = version
	a.uncommitted = nil
	a.mu.Unlock()
}

// WorldCopy returns a deep copy of the live world, safe to retain and read
// outside the aggregate's ownership.
func (a *Aggregate) WorldCopy() *game.World {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.world.Clone()
}

// Uncommitted returns a copy of the not-yet-persisted event list.
func (a *Aggregate) Uncommitted() []game.Event {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]game.Event(nil), a.uncommitted...)
}

// ClearUncommitted drops the uncommitted list once persistence confirmed it.
func (a *Aggregate) ClearUncommitted() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.uncommitted = nil
	a.mu.Unlock()
}
