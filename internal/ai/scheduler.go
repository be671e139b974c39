package ai

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"galaxion/sync/internal/clock"
	"galaxion/sync/internal/game"
	"galaxion/sync/internal/logging"
	"galaxion/sync/internal/queue"
	"galaxion/sync/internal/session"
)

// SessionState carries the per-session pacing bookkeeping.
type SessionState struct {
	SessionID        string
	Difficulty       Difficulty
	LastAiTick       uint64
	LastAiActionTime time.Time
}

// SchedulerOption configures optional Scheduler behaviour.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger attaches a logger for per-player failures.
func WithSchedulerLogger(logger *logging.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSchedulerNow overrides the wall-clock source for deterministic tests.
func WithSchedulerNow(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler consumes clock ticks and decides, per session, whether AI
// players act this tick. A failure in one player's generation never aborts
// other players or sessions on the same tick.
type Scheduler struct {
	manager  *session.Manager
	queue    *queue.Queue
	tickRate int
	logger   *logging.Logger
	now      func() time.Time

	mu         sync.Mutex
	sessions   map[string]*SessionState
	strategies map[string]map[string]Strategy
}

// NewScheduler constructs a scheduler pacing against the given tick rate.
func NewScheduler(manager *session.Manager, commandQueue *queue.Queue, tickRate int, opts ...SchedulerOption) *Scheduler {
	if tickRate <= 0 {
		tickRate = 10
	}
	scheduler := &Scheduler{
		manager:    manager,
		queue:      commandQueue,
		tickRate:   tickRate,
		logger:     logging.NewTestLogger(),
		now:        time.Now,
		sessions:   make(map[string]*SessionState),
		strategies: make(map[string]map[string]Strategy),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(scheduler)
		}
	}
	return scheduler
}

// RegisterSession starts AI bookkeeping for a session at the difficulty.
func (s *Scheduler) RegisterSession(sessionID string, level Difficulty) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = &SessionState{SessionID: sessionID, Difficulty: level}
	}
	s.mu.Unlock()
}

// UnregisterSession tears down AI bookkeeping for the session.
func (s *Scheduler) UnregisterSession(sessionID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.sessions, sessionID)
	delete(s.strategies, sessionID)
	s.mu.Unlock()
}

// RegisterStrategy binds a strategy to an AI player within a session.
func (s *Scheduler) RegisterStrategy(sessionID, playerID string, strategy Strategy) {
	if s == nil || strategy == nil {
		return
	}
	s.mu.Lock()
	players, ok := s.strategies[sessionID]
	if !ok {
		players = make(map[string]Strategy)
		s.strategies[sessionID] = players
	}
	players[playerID] = strategy
	s.mu.Unlock()
}

// State returns a copy of the session's pacing bookkeeping.
func (s *Scheduler) State(sessionID string) (SessionState, bool) {
	if s == nil {
		return SessionState{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return SessionState{}, false
	}
	return *state, true
}

// Run consumes ticks until the channel closes or the context is cancelled.
func (s *Scheduler) Run(ctx context.Context, ticks <-chan clock.Tick) {
	if s == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			s.HandleTick(tick)
		}
	}
}

// HandleTick evaluates every registered session for this tick.
func (s *Scheduler) HandleTick(tick clock.Tick) {
	if s == nil {
		return
	}
	for _, sessionID := range s.sessionIDs() {
		s.handleSession(tick, sessionID)
	}
}

// PacingGate maps (tickNumber, sessionID) to a reproducible multiplier in
// [0.75, 1.25), deliberately jittering AI cadence without global RNG state.
func PacingGate(tickNumber uint64, sessionID string) float64 {
	hasher := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], tickNumber)
	_, _ = hasher.Write(buf[:])
	_, _ = hasher.Write([]byte(sessionID))
	return 0.75 + 0.5*float64(hasher.Sum64()%10000)/10000
}

// ShouldAct reports whether the session's AI is due on this tick, combining
// the difficulty-derived interval with the randomized pacing gate.
func (s *Scheduler) ShouldAct(tickNumber uint64, state SessionState) bool {
	base := TicksPerAction(state.Difficulty, s.tickRate)
	required := uint64(float64(base)*PacingGate(tickNumber, state.SessionID) + 0.5)
	if required < 1 {
		required = 1
	}
	return tickNumber-state.LastAiTick >= required
}

func (s *Scheduler) sessionIDs() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) handleSession(tick clock.Tick, sessionID string) {
	s.mu.Lock()
	state, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	snapshot := *state
	players := make([]string, 0, len(s.strategies[sessionID]))
	for playerID := range s.strategies[sessionID] {
		players = append(players, playerID)
	}
	strategies := make(map[string]Strategy, len(players))
	for playerID, strategy := range s.strategies[sessionID] {
		strategies[playerID] = strategy
	}
	s.mu.Unlock()

	if len(players) == 0 || !s.ShouldAct(tick.Number, snapshot) {
		return
	}
	aggregate, ok := s.manager.Get(sessionID)
	if !ok {
		return
	}
	//1.- Hand every strategy the same read-only copy so none can corrupt the live world.
	world := aggregate.WorldCopy()
	sort.Strings(players)

	for _, playerID := range players {
		s.generateFor(sessionID, playerID, strategies[playerID], world)
	}
	//2.- Pacing advances once the strategies ran, even when all stayed quiet,
	// so a command-less session is not re-evaluated on every tick.
	s.mu.Lock()
	if state, ok := s.sessions[sessionID]; ok {
		state.LastAiTick = tick.Number
		state.LastAiActionTime = s.now()
	}
	s.mu.Unlock()
}

// generateFor isolates one player's command generation; panics and errors are
// logged and confined to that player.
func (s *Scheduler) generateFor(sessionID, playerID string, strategy Strategy, world *game.World) {
	events, err := func() (events []game.Event, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("strategy panic: %v", r)
			}
		}()
		return strategy.GenerateCommands(playerID, world)
	}()
	if err != nil {
		s.logger.Error("ai command generation failed",
			logging.String("session_id", sessionID),
			logging.String("player_id", playerID),
			logging.String("strategy", strategy.Name()),
			logging.Error(err))
		return
	}
	for _, event := range events {
		if err := s.queue.Enqueue(sessionID, event); err != nil {
			s.logger.Error("ai command enqueue failed",
				logging.String("session_id", sessionID),
				logging.String("player_id", playerID),
				logging.Error(err))
		}
	}
}
