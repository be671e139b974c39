// Package eventstore provides the append-only, subscribable log of domain
// events per session, backed by a pluggable persistence backend.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"galaxion/sync/internal/game"
	"galaxion/sync/internal/logging"
)

// Envelope is the persisted, ordered unit of the event log. Within a session
// envelopes are strictly ordered by Version with no gaps.
type Envelope struct {
	SessionID string
	Version   uint64
	Timestamp time.Time
	Event     game.Event
}

// Handler consumes every envelope published after registration, across all
// sessions. Handlers must treat the envelope's event as read-only.
type Handler func(ctx context.Context, env Envelope) error

// ErrNoSnapshot indicates no world snapshot has been persisted for a session.
var ErrNoSnapshot = errors.New("no snapshot for session")

// Backend abstracts the concrete persistence engine behind the store.
type Backend interface {
	AppendEvent(ctx context.Context, env Envelope) error
	EventsSince(ctx context.Context, sessionID string, afterVersion uint64) ([]Envelope, error)
	LatestVersion(ctx context.Context, sessionID string) (uint64, error)
	SaveSnapshot(ctx context.Context, sessionID string, version uint64, world *game.World) error
	LoadSnapshot(ctx context.Context, sessionID string) (*game.World, uint64, error)
	Close() error
}

// Option configures optional Store behaviour at construction time.
type Option func(*Store)

// WithPublishTimeout bounds each subscriber invocation during publish.
func WithPublishTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithLogger attaches a logger for subscriber failures and timeouts.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the envelope timestamp source for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store coordinates version assignment, persistence and subscriber fan-out.
// Version sequencing is locked per session so unrelated sessions publish
// concurrently.
type Store struct {
	backend Backend
	timeout time.Duration
	logger  *logging.Logger
	now     func() time.Time

	mu       sync.Mutex
	logs     map[string]*sessionLog
	handlers []registeredHandler
	nextID   int
}

// sessionLog serializes version assignment for one session.
type sessionLog struct {
	mu      sync.Mutex
	version uint64
	seeded  bool
}

type registeredHandler struct {
	id      int
	handler Handler
}

// DefaultPublishTimeout bounds a single subscriber invocation.
const DefaultPublishTimeout = 30 * time.Second

// New constructs a store over the provided backend.
func New(backend Backend, opts ...Option) *Store {
	store := &Store{
		backend: backend,
		timeout: DefaultPublishTimeout,
		logger:  logging.NewTestLogger(),
		now:     time.Now,
		logs:    make(map[string]*sessionLog),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Subscribe registers a handler invoked for every subsequently published
// envelope. The returned function unregisters the handler.
func (s *Store) Subscribe(handler Handler) func() {
	if s == nil || handler == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers = append(s.handlers, registeredHandler{id: id, handler: handler})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			kept := s.handlers[:0]
			for _, entry := range s.handlers {
				if entry.id != id {
					kept = append(kept, entry)
				}
			}
			s.handlers = kept
			s.mu.Unlock()
		})
	}
}

// Publish appends an envelope with the next sequential version for the
// session and notifies all current subscribers. A persistence failure leaves
// the version untouched and the event uncommitted.
func (s *Store) Publish(ctx context.Context, sessionID string, event game.Event) (Envelope, error) {
	if s == nil {
		return Envelope{}, errors.New("store is nil")
	}
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return Envelope{}, errors.New("session id must not be empty")
	}
	if event == nil {
		return Envelope{}, errors.New("event must not be nil")
	}

	log := s.sessionLog(trimmed)
	log.mu.Lock()
	if !log.seeded {
		//1.- Seed the version counter from persisted history exactly once per process.
		latest, err := s.backend.LatestVersion(ctx, trimmed)
		if err != nil {
			log.mu.Unlock()
			return Envelope{}, fmt.Errorf("seed version for %s: %w", trimmed, err)
		}
		log.version = latest
		log.seeded = true
	}
	envelope := Envelope{
		SessionID: trimmed,
		Version:   log.version + 1,
		Timestamp: s.now().UTC(),
		Event:     event,
	}
	if err := s.backend.AppendEvent(ctx, envelope); err != nil {
		log.mu.Unlock()
		return Envelope{}, fmt.Errorf("append event for %s: %w", trimmed, err)
	}
	log.version = envelope.Version
	log.mu.Unlock()

	s.dispatch(ctx, envelope)
	return envelope, nil
}

// GetEventsForSession returns the full ordered history for replay.
func (s *Store) GetEventsForSession(ctx context.Context, sessionID string) ([]Envelope, error) {
	if s == nil {
		return nil, errors.New("store is nil")
	}
	return s.backend.EventsSince(ctx, sessionID, 0)
}

// EventsSince returns the ordered history strictly after the given version.
func (s *Store) EventsSince(ctx context.Context, sessionID string, afterVersion uint64) ([]Envelope, error) {
	if s == nil {
		return nil, errors.New("store is nil")
	}
	return s.backend.EventsSince(ctx, sessionID, afterVersion)
}

// SaveSnapshot persists a full world copy so later replays are bounded.
func (s *Store) SaveSnapshot(ctx context.Context, sessionID string, version uint64, world *game.World) error {
	if s == nil {
		return errors.New("store is nil")
	}
	return s.backend.SaveSnapshot(ctx, sessionID, version, world)
}

// LoadSnapshot retrieves the most recent persisted world copy for a session.
func (s *Store) LoadSnapshot(ctx context.Context, sessionID string) (*game.World, uint64, error) {
	if s == nil {
		return nil, 0, errors.New("store is nil")
	}
	return s.backend.LoadSnapshot(ctx, sessionID)
}

// Close releases the backend.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

func (s *Store) sessionLog(sessionID string) *sessionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[sessionID]
	if !ok {
		log = &sessionLog{}
		s.logs[sessionID] = log
	}
	return log
}

// dispatch invokes every registered handler in registration order, time-boxing
// each invocation. A slow or failing handler is logged and never unregisters
// or delays other handlers beyond the timeout.
func (s *Store) dispatch(ctx context.Context, envelope Envelope) {
	s.mu.Lock()
	handlers := append([]registeredHandler(nil), s.handlers...)
	s.mu.Unlock()

	for _, entry := range handlers {
		s.invoke(ctx, entry, envelope)
	}
}

func (s *Store) invoke(ctx context.Context, entry registeredHandler, envelope Envelope) {
	invocation, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("subscriber panic: %v", r)
			}
		}()
		done <- entry.handler(invocation, envelope)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Error("event subscriber failed",
				logging.String("session_id", envelope.SessionID),
				logging.Uint64("version", envelope.Version),
				logging.Int("subscriber", entry.id),
				logging.Error(err))
		}
	case <-invocation.Done():
		//1.- Abandon the invocation so one slow subscriber cannot stall the publisher.
		s.logger.Warn("event subscriber timed out",
			logging.String("session_id", envelope.SessionID),
			logging.Uint64("version", envelope.Version),
			logging.Int("subscriber", entry.id))
	}
}
