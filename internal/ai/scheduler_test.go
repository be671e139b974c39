package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"galaxion/sync/internal/clock"
	"galaxion/sync/internal/eventstore"
	"galaxion/sync/internal/game"
	"galaxion/sync/internal/queue"
	"galaxion/sync/internal/session"
)

func testSetup(t *testing.T, sessionID string) (*session.Manager, *queue.Queue) {
	t.Helper()
	manager := session.NewManager(eventstore.New(eventstore.NewMemoryBackend()))
	world := game.NewWorld(sessionID, []game.Player{
		{ID: "alice", Name: "Alice"},
		{ID: "bot-1", Name: "Bot", AI: true},
	})
	if _, err := manager.GetOrCreate(context.Background(), sessionID, world); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return manager, queue.New(16)
}

func TestPacingGateIsReproducibleAndBounded(t *testing.T) {
	//1.- The same inputs always map to the same multiplier.
	first := PacingGate(42, "s1")
	second := PacingGate(42, "s1")
	if first != second {
		t.Fatalf("gate not reproducible: %v vs %v", first, second)
	}

	//2.- Across many ticks the multiplier stays inside [0.75, 1.25).
	for tick := uint64(0); tick < 1000; tick++ {
		gate := PacingGate(tick, "s1")
		if gate < 0.75 || gate >= 1.25 {
			t.Fatalf("gate %v out of range at tick %d", gate, tick)
		}
	}

	//3.- Different sessions decorrelate on the same tick.
	same := 0
	for tick := uint64(0); tick < 100; tick++ {
		if PacingGate(tick, "s1") == PacingGate(tick, "s2") {
			same++
		}
	}
	if same == 100 {
		t.Fatal("sessions share identical gates on every tick")
	}
}

func TestTicksPerActionByDifficulty(t *testing.T) {
	cases := []struct {
		level Difficulty
		want  uint64
	}{
		{Easy, 10},
		{Normal, 5},
		{Hard, 3},
		{Expert, 2},
	}
	for _, tc := range cases {
		if got := TicksPerAction(tc.level, 10); got != tc.want {
			t.Fatalf("%s: expected %d ticks per action, got %d", tc.level, tc.want, got)
		}
	}
	//1.- The interval never drops below one tick even at absurd rates.
	if got := TicksPerAction(Expert, 1); got != 1 {
		t.Fatalf("expected floor of 1, got %d", got)
	}
}

func TestParseDifficulty(t *testing.T) {
	if level, err := ParseDifficulty("  HARD "); err != nil || level != Hard {
		t.Fatalf("expected hard, got %v %v", level, err)
	}
	if level, err := ParseDifficulty(""); err != nil || level != Normal {
		t.Fatalf("blank difficulty must default to normal, got %v %v", level, err)
	}
	if _, err := ParseDifficulty("nightmare"); err == nil {
		t.Fatal("expected error for unknown difficulty")
	}
}

func TestSchedulerEnqueuesOnDueTick(t *testing.T) {
	manager, commandQueue := testSetup(t, "s1")
	scheduler := NewScheduler(manager, commandQueue, 10,
		WithSchedulerNow(func() time.Time { return time.Unix(100, 0) }))
	scheduler.RegisterSession("s1", Expert)

	tuning := DefaultTuning()
	strategy, err := NewStrategy(StrategyEconomic, tuning, WithStrategyRand(func() float64 { return 0 }))
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}
	scheduler.RegisterStrategy("s1", "bot-1", strategy)

	//1.- Walk ticks until the pacing gate opens, then expect a queued command.
	for tick := uint64(1); tick <= 10; tick++ {
		scheduler.HandleTick(clock.Tick{Number: tick, Timestamp: time.Unix(int64(tick), 0)})
		if commandQueue.Len("s1") > 0 {
			state, ok := scheduler.State("s1")
			if !ok {
				t.Fatal("expected session state")
			}
			if state.LastAiTick != tick {
				t.Fatalf("expected LastAiTick %d, got %d", tick, state.LastAiTick)
			}
			if !state.LastAiActionTime.Equal(time.Unix(100, 0)) {
				t.Fatalf("unexpected action time %v", state.LastAiActionTime)
			}
			return
		}
	}
	t.Fatal("no command enqueued within 10 ticks at expert pacing")
}

func TestSchedulerSkipsTicksInsideInterval(t *testing.T) {
	manager, commandQueue := testSetup(t, "s1")
	scheduler := NewScheduler(manager, commandQueue, 10)
	scheduler.RegisterSession("s1", Easy)

	strategy, err := NewStrategy(StrategyEconomic, DefaultTuning(), WithStrategyRand(func() float64 { return 0 }))
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}
	scheduler.RegisterStrategy("s1", "bot-1", strategy)

	//1.- At easy pacing the gate needs at least 8 ticks (10 * 0.75), so tick 5 stays quiet.
	for tick := uint64(1); tick <= 5; tick++ {
		scheduler.HandleTick(clock.Tick{Number: tick, Timestamp: time.Unix(int64(tick), 0)})
	}
	if depth := commandQueue.Len("s1"); depth != 0 {
		t.Fatalf("expected no commands inside the easy interval, got %d", depth)
	}
}

type quietStrategy struct {
	calls int
}

func (q *quietStrategy) Name() string { return "quiet" }

func (q *quietStrategy) GenerateCommands(string, *game.World) ([]game.Event, error) {
	q.calls++
	return nil, nil
}

func TestSchedulerPacesQuietSessions(t *testing.T) {
	manager, commandQueue := testSetup(t, "s1")
	scheduler := NewScheduler(manager, commandQueue, 10)
	scheduler.RegisterSession("s1", Expert)

	quiet := &quietStrategy{}
	scheduler.RegisterStrategy("s1", "bot-1", quiet)

	//1.- Expert pacing at 10Hz needs two ticks per action, so ten ticks allow
	// exactly five evaluations even when no command ever comes out.
	for tick := uint64(1); tick <= 10; tick++ {
		scheduler.HandleTick(clock.Tick{Number: tick, Timestamp: time.Unix(int64(tick), 0)})
	}
	if quiet.calls != 5 {
		t.Fatalf("expected 5 strategy invocations, got %d", quiet.calls)
	}
	state, ok := scheduler.State("s1")
	if !ok {
		t.Fatal("expected session state")
	}
	if state.LastAiTick != 10 {
		t.Fatalf("quiet evaluation must advance pacing, LastAiTick %d", state.LastAiTick)
	}
}

type panicStrategy struct{}

func (panicStrategy) Name() string { return "panic" }

func (panicStrategy) GenerateCommands(string, *game.World) ([]game.Event, error) {
	panic("deliberate")
}

type errorStrategy struct{}

func (errorStrategy) Name() string { return "error" }

func (errorStrategy) GenerateCommands(string, *game.World) ([]game.Event, error) {
	return nil, errors.New("deliberate")
}

func TestSchedulerIsolatesFailingPlayers(t *testing.T) {
	manager := session.NewManager(eventstore.New(eventstore.NewMemoryBackend()))
	sessionID := "s1"
	world := game.NewWorld(sessionID, []game.Player{
		{ID: "bot-a", AI: true},
		{ID: "bot-b", AI: true},
		{ID: "bot-c", AI: true},
	})
	if _, err := manager.GetOrCreate(context.Background(), sessionID, world); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	commandQueue := queue.New(16)

	scheduler := NewScheduler(manager, commandQueue, 10)
	scheduler.RegisterSession(sessionID, Expert)

	healthy, err := NewStrategy(StrategyEconomic, DefaultTuning(), WithStrategyRand(func() float64 { return 0 }))
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}
	//1.- bot-a panics and bot-b errors; bot-c must still act.
	scheduler.RegisterStrategy(sessionID, "bot-a", panicStrategy{})
	scheduler.RegisterStrategy(sessionID, "bot-b", errorStrategy{})
	scheduler.RegisterStrategy(sessionID, "bot-c", healthy)

	for tick := uint64(1); tick <= 10; tick++ {
		scheduler.HandleTick(clock.Tick{Number: tick, Timestamp: time.Unix(int64(tick), 0)})
		if commandQueue.Len(sessionID) > 0 {
			return
		}
	}
	t.Fatal("healthy player never acted despite failing peers")
}

func TestUnregisterSessionStopsPacing(t *testing.T) {
	manager, commandQueue := testSetup(t, "s1")
	scheduler := NewScheduler(manager, commandQueue, 10)
	scheduler.RegisterSession("s1", Expert)
	scheduler.UnregisterSession("s1")

	if _, ok := scheduler.State("s1"); ok {
		t.Fatal("unregistered session must not report state")
	}
	for tick := uint64(1); tick <= 10; tick++ {
		scheduler.HandleTick(clock.Tick{Number: tick, Timestamp: time.Unix(int64(tick), 0)})
	}
	if depth := commandQueue.Len("s1"); depth != 0 {
		t.Fatalf("expected no commands after unregister, got %d", depth)
	}
}
