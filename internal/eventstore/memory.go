package eventstore

import (
	"context"
	"sync"

	"galaxion/sync/internal/game"
)

// MemoryBackend keeps the event log and snapshots in process memory. It backs
// tests and runs without a configured database path.
type MemoryBackend struct {
	mu        sync.RWMutex
	events    map[string][]Envelope
	snapshots map[string]memorySnapshot
}

type memorySnapshot struct {
	version uint64
	world   *game.World
}

// NewMemoryBackend constructs an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		events:    make(map[string][]Envelope),
		snapshots: make(map[string]memorySnapshot),
	}
}

// AppendEvent stores the envelope at the end of the session's log.
func (b *MemoryBackend) AppendEvent(_ context.Context, env Envelope) error {
	b.mu.Lock()
	b.events[env.SessionID] = append(b.events[env.SessionID], env)
	b.mu.Unlock()
	return nil
}

// EventsSince returns the envelopes with a version greater than afterVersion.
func (b *MemoryBackend) EventsSince(_ context.Context, sessionID string, afterVersion uint64) ([]Envelope, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Envelope
	for _, env := range b.events[sessionID] {
		if env.Version > afterVersion {
			out = append(out, env)
		}
	}
	return out, nil
}

// LatestVersion reports the highest stored version for the session.
func (b *MemoryBackend) LatestVersion(_ context.Context, sessionID string) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	log := b.events[sessionID]
	if len(log) == 0 {
		return 0, nil
	}
	return log[len(log)-1].Version, nil
}

// SaveSnapshot stores an independent copy of the world at the given version.
func (b *MemoryBackend) SaveSnapshot(_ context.Context, sessionID string, version uint64, world *game.World) error {
	b.mu.Lock()
	b.snapshots[sessionID] = memorySnapshot{version: version, world: world.Clone()}
	b.mu.Unlock()
	return nil
}

// LoadSnapshot returns a copy of the stored world, or ErrNoSnapshot.
func (b *MemoryBackend) LoadSnapshot(_ context.Context, sessionID string) (*game.World, uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap, ok := b.snapshots[sessionID]
	if !ok {
		return nil, 0, ErrNoSnapshot
	}
	return snap.world.Clone(), snap.version, nil
}

// Close is a no-op for the in-memory backend.
func (b *MemoryBackend) Close() error { return nil }
