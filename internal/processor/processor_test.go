package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"galaxion/sync/internal/delta"
	"galaxion/sync/internal/eventstore"
	"galaxion/sync/internal/game"
	"galaxion/sync/internal/queue"
	"galaxion/sync/internal/session"
)

// recordingBroadcaster captures delta batches per session.
type recordingBroadcaster struct {
	mu      sync.Mutex
	batches map[string][][]delta.Update
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{batches: make(map[string][][]delta.Update)}
}

func (b *recordingBroadcaster) SendUpdates(_ context.Context, sessionID string, updates []delta.Update) error {
	b.mu.Lock()
	b.batches[sessionID] = append(b.batches[sessionID], updates)
	b.mu.Unlock()
	return nil
}

func (b *recordingBroadcaster) sent(sessionID string) [][]delta.Update {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]delta.Update(nil), b.batches[sessionID]...)
}

func fixture(t *testing.T) (*queue.Queue, *session.Manager, *eventstore.Store, *recordingBroadcaster, string) {
	t.Helper()
	store := eventstore.New(eventstore.NewMemoryBackend())
	manager := session.NewManager(store)
	commandQueue := queue.New(16)
	broadcaster := newRecordingBroadcaster()

	sessionID := "s1"
	world := game.NewWorld(sessionID, []game.Player{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob", AI: true},
	})
	if _, err := manager.GetOrCreate(context.Background(), sessionID, world); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return commandQueue, manager, store, broadcaster, sessionID
}

func TestDrainSessionAppliesPersistsAndBroadcasts(t *testing.T) {
	commandQueue, manager, store, broadcaster, sessionID := fixture(t)
	proc := New(commandQueue, manager, store, broadcaster)
	ctx := context.Background()

	planet := manager.PreviousWorldState(sessionID).PlanetsOwnedBy("alice")[0]
	if err := commandQueue.Enqueue(sessionID, &game.BuildStructure{
		PlayerID: "alice", PlanetID: planet, StructureID: "st-1", Type: "mine",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	processed, err := proc.DrainSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed command, got %d", processed)
	}

	//1.- The aggregate advanced and holds nothing uncommitted.
	aggregate, _ := manager.Get(sessionID)
	if aggregate.Version() != 1 {
		t.Fatalf("expected version 1, got %d", aggregate.Version())
	}
	if len(aggregate.Uncommitted()) != 0 {
		t.Fatal("committed events must be cleared")
	}

	//2.- Exactly one envelope landed in the store.
	history, err := store.GetEventsForSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Version != 1 {
		t.Fatalf("unexpected history %+v", history)
	}

	//3.- One delta batch went out carrying the added structure.
	batches := broadcaster.sent(sessionID)
	if len(batches) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(batches))
	}
	foundStructure := false
	for _, update := range batches[0] {
		if update.Entity == delta.EntityStructure && update.Type == delta.Added && update.ID == "st-1" {
			foundStructure = true
		}
	}
	if !foundStructure {
		t.Fatalf("broadcast missing the added structure: %+v", batches[0])
	}
}

func TestDrainSessionDropsFailingCommand(t *testing.T) {
	commandQueue, manager, store, broadcaster, sessionID := fixture(t)
	proc := New(commandQueue, manager, store, broadcaster)
	ctx := context.Background()

	//1.- The poison command fails; the one behind it must still apply.
	if err := commandQueue.Enqueue(sessionID, &game.ColonizePlanet{PlayerID: "ghost", PlanetID: "nowhere"}); err != nil {
		t.Fatalf("enqueue poison: %v", err)
	}
	if err := commandQueue.Enqueue(sessionID, &game.Diplomacy{PlayerID: "alice", TargetPlayerID: "bob", Stance: "ally"}); err != nil {
		t.Fatalf("enqueue follow-up: %v", err)
	}

	processed, err := proc.DrainSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed command, got %d", processed)
	}
	aggregate, _ := manager.Get(sessionID)
	player, _ := aggregate.WorldCopy().FindPlayer("alice")
	if player.Relations["bob"] != "ally" {
		t.Fatal("the healthy command behind the poison one was lost")
	}
}

func TestDrainSessionQuietWhenNothingChanged(t *testing.T) {
	commandQueue, manager, store, broadcaster, sessionID := fixture(t)
	proc := New(commandQueue, manager, store, broadcaster)

	processed, err := proc.DrainSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if processed != 0 {
		t.Fatalf("expected nothing processed, got %d", processed)
	}
	if len(broadcaster.sent(sessionID)) != 0 {
		t.Fatal("an empty drain must not broadcast")
	}
}

func TestSnapshotCadence(t *testing.T) {
	commandQueue, manager, store, broadcaster, sessionID := fixture(t)
	proc := New(commandQueue, manager, store, broadcaster, WithSnapshotEvery(3))
	ctx := context.Background()

	if _, _, err := store.LoadSnapshot(ctx, sessionID); err == nil {
		t.Fatal("expected no snapshot before the cadence is reached")
	}

	//1.- Three applied events cross the cadence and persist one snapshot.
	for i := 0; i < 3; i++ {
		if err := commandQueue.Enqueue(sessionID, &game.Diplomacy{PlayerID: "alice", TargetPlayerID: "bob", Stance: "ally"}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if _, err := proc.DrainSession(ctx, sessionID); err != nil {
		t.Fatalf("drain: %v", err)
	}

	world, version, err := store.LoadSnapshot(ctx, sessionID)
	if err != nil {
		t.Fatalf("expected snapshot after cadence: %v", err)
	}
	if version != 3 {
		t.Fatalf("expected snapshot at version 3, got %d", version)
	}
	player, _ := world.FindPlayer("alice")
	if player.Relations["bob"] != "ally" {
		t.Fatal("snapshot does not reflect applied events")
	}
}

// flakyBackend fails exactly one append, simulating a transient storage fault.
type flakyBackend struct {
	*eventstore.MemoryBackend
	mu      sync.Mutex
	failOn  int
	appends int
}

func (b *flakyBackend) AppendEvent(ctx context.Context, env eventstore.Envelope) error {
	b.mu.Lock()
	b.appends++
	fail := b.appends == b.failOn
	b.mu.Unlock()
	if fail {
		return errors.New("append rejected")
	}
	return b.MemoryBackend.AppendEvent(ctx, env)
}

func TestPublishFailureRollsBackTheAggregate(t *testing.T) {
	backend := &flakyBackend{MemoryBackend: eventstore.NewMemoryBackend(), failOn: 2}
	store := eventstore.New(backend)
	manager := session.NewManager(store)
	commandQueue := queue.New(16)
	sessionID := "s1"
	world := game.NewWorld(sessionID, []game.Player{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob", AI: true},
	})
	if _, err := manager.GetOrCreate(context.Background(), sessionID, world); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	proc := New(commandQueue, manager, store, newRecordingBroadcaster(), WithSnapshotEvery(2))
	ctx := context.Background()

	//1.- The second command's append fails; its apply must be undone.
	for _, stance := range []string{"war", "ally", "peace"} {
		if err := commandQueue.Enqueue(sessionID, &game.Diplomacy{PlayerID: "alice", TargetPlayerID: "bob", Stance: stance}); err != nil {
			t.Fatalf("enqueue %s: %v", stance, err)
		}
	}
	processed, err := proc.DrainSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if processed != 2 {
		t.Fatalf("expected 2 committed commands, got %d", processed)
	}

	//2.- The live aggregate tracks the committed log exactly.
	aggregate, _ := manager.Get(sessionID)
	if aggregate.Version() != 2 {
		t.Fatalf("aggregate ran ahead of the log: version %d", aggregate.Version())
	}
	live, _ := aggregate.WorldCopy().FindPlayer("alice")
	if live.Relations["bob"] != "peace" {
		t.Fatalf("expected stance peace, got %q", live.Relations["bob"])
	}

	//3.- A cold start over the same store reproduces the committed tail even
	// though a snapshot was persisted between the failure and the last commit.
	fresh := session.NewManager(store)
	replayed, err := fresh.GetOrCreate(ctx, sessionID, world)
	if err != nil {
		t.Fatalf("cold start: %v", err)
	}
	if replayed.Version() != 2 {
		t.Fatalf("expected replayed version 2, got %d", replayed.Version())
	}
	player, _ := replayed.WorldCopy().FindPlayer("alice")
	if player.Relations["bob"] != "peace" {
		t.Fatalf("committed event lost on replay: stance %q", player.Relations["bob"])
	}
}

func TestRunDrainsOnWakeNotification(t *testing.T) {
	commandQueue, manager, store, broadcaster, sessionID := fixture(t)
	proc := New(commandQueue, manager, store, broadcaster)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		proc.Run(ctx)
		close(done)
	}()

	if err := commandQueue.Enqueue(sessionID, &game.Diplomacy{PlayerID: "alice", TargetPlayerID: "bob", Stance: "ally"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	//1.- The loop must pick the command up without further prodding.
	deadline := time.After(2 * time.Second)
	for {
		aggregate, _ := manager.Get(sessionID)
		if aggregate.Version() == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("processor never drained the session")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
