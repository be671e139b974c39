package session

import (
	"context"
	"testing"

	"galaxion/sync/internal/eventstore"
	"galaxion/sync/internal/game"
)

func seedWorld(sessionID string) *game.World {
	return game.NewWorld(sessionID, []game.Player{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob", AI: true},
	})
}

func TestGetOrCreateReplaysHistory(t *testing.T) {
	store := eventstore.New(eventstore.NewMemoryBackend())
	ctx := context.Background()
	sessionID := "replay-1"
	world := seedWorld(sessionID)

	//1.- Record some history directly against the store.
	planet := world.PlanetsOwnedBy("alice")[0]
	events := []game.Event{
		&game.BuildStructure{PlayerID: "alice", PlanetID: planet, StructureID: "st-1", Type: "mine"},
		&game.Diplomacy{PlayerID: "alice", TargetPlayerID: "bob", Stance: "ally"},
	}
	for _, event := range events {
		if _, err := store.Publish(ctx, sessionID, event); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	//2.- A fresh manager must rebuild the same state from the log.
	manager := NewManager(store)
	aggregate, err := manager.GetOrCreate(ctx, sessionID, world.Clone())
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if aggregate.Version() != 2 {
		t.Fatalf("expected version 2 after replay, got %d", aggregate.Version())
	}
	replayed := aggregate.WorldCopy()
	home, _ := replayed.FindPlanet(planet)
	if len(home.Structures) != 1 {
		t.Fatalf("replay dropped the structure: %+v", home.Structures)
	}
	player, _ := replayed.FindPlayer("alice")
	if player.Relations["bob"] != "ally" {
		t.Fatalf("replay dropped the stance: %+v", player.Relations)
	}
	if len(aggregate.Uncommitted()) != 0 {
		t.Fatal("replayed events must not be marked uncommitted")
	}
}

func TestGetOrCreateFastForwardsFromSnapshot(t *testing.T) {
	store := eventstore.New(eventstore.NewMemoryBackend())
	ctx := context.Background()
	sessionID := "snap-1"
	world := seedWorld(sessionID)

	//1.- Persist a snapshot at version 5 and one event after it.
	snapshot := world.Clone()
	snapshot.Name = "from-snapshot"
	if err := store.SaveSnapshot(ctx, sessionID, 5, snapshot); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	for v := uint64(1); v <= 6; v++ {
		if _, err := store.Publish(ctx, sessionID, &game.Diplomacy{PlayerID: "alice", TargetPlayerID: "bob", Stance: "ally"}); err != nil {
			t.Fatalf("publish %d: %v", v, err)
		}
	}

	manager := NewManager(store)
	aggregate, err := manager.GetOrCreate(ctx, sessionID, world.Clone())
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}

	//2.- Only the one event after version 5 replays on top of the snapshot.
	if aggregate.Version() != 6 {
		t.Fatalf("expected version 6, got %d", aggregate.Version())
	}
	if aggregate.WorldCopy().Name != "from-snapshot" {
		t.Fatal("aggregate did not start from the snapshot world")
	}
}

func TestGetOrCreateDegradesOnReplayFailure(t *testing.T) {
	store := eventstore.New(eventstore.NewMemoryBackend())
	ctx := context.Background()
	sessionID := "broken-1"

	//1.- History referencing an unknown player cannot replay against the seed world.
	if _, err := store.Publish(ctx, sessionID, &game.ColonizePlanet{PlayerID: "ghost", PlanetID: "nowhere"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	manager := NewManager(store)
	world := seedWorld(sessionID)
	aggregate, err := manager.GetOrCreate(ctx, sessionID, world)
	if err != nil {
		t.Fatalf("get or create must degrade, not fail: %v", err)
	}
	if aggregate.Version() != 0 {
		t.Fatalf("degraded aggregate must start at version 0, got %d", aggregate.Version())
	}
	if manager.ReplayFailures() != 1 {
		t.Fatalf("expected one recorded replay failure, got %d", manager.ReplayFailures())
	}
}

func TestGetDoesNotCreate(t *testing.T) {
	manager := NewManager(eventstore.New(eventstore.NewMemoryBackend()))
	if _, ok := manager.Get("absent"); ok {
		t.Fatal("Get must not create sessions")
	}

	ctx := context.Background()
	if _, err := manager.GetOrCreate(ctx, "present", seedWorld("present")); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if _, ok := manager.Get("present"); !ok {
		t.Fatal("expected live session to be returned")
	}
	if got := manager.Sessions(); len(got) != 1 || got[0] != "present" {
		t.Fatalf("unexpected session list %v", got)
	}

	manager.Remove("present")
	if _, ok := manager.Get("present"); ok {
		t.Fatal("removed session must be gone")
	}
}

func TestPreviousWorldStateIsDefensivelyCopied(t *testing.T) {
	manager := NewManager(eventstore.New(eventstore.NewMemoryBackend()))
	ctx := context.Background()
	sessionID := "baseline-1"
	if _, err := manager.GetOrCreate(ctx, sessionID, seedWorld(sessionID)); err != nil {
		t.Fatalf("get or create: %v", err)
	}

	world := seedWorld(sessionID)
	manager.SetPreviousWorldState(sessionID, world)

	//1.- Mutating the world after storing must not alter the baseline.
	world.Players[0].Resources.Credits = 1
	baseline := manager.PreviousWorldState(sessionID)
	if baseline.Players[0].Resources.Credits == 1 {
		t.Fatal("baseline shares memory with the caller's world")
	}

	//2.- Mutating a returned baseline must not alter the stored one either.
	baseline.Players[0].Name = "mutated"
	if manager.PreviousWorldState(sessionID).Players[0].Name == "mutated" {
		t.Fatal("returned baseline shares memory with the stored one")
	}
}

func TestAggregateApplyTracksVersionAndUncommitted(t *testing.T) {
	sessionID := "agg-1"
	aggregate := NewAggregate(sessionID, seedWorld(sessionID))

	if err := aggregate.Apply(nil); err == nil {
		t.Fatal("expected error for nil event")
	}

	planet := aggregate.WorldCopy().PlanetsOwnedBy("alice")[0]
	if err := aggregate.Apply(&game.BuildStructure{PlayerID: "alice", PlanetID: planet, StructureID: "st-1", Type: "mine"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if aggregate.Version() != 1 {
		t.Fatalf("expected version 1, got %d", aggregate.Version())
	}
	if uncommitted := aggregate.Uncommitted(); len(uncommitted) != 1 {
		t.Fatalf("expected one uncommitted event, got %d", len(uncommitted))
	}

	//1.- A failing event leaves both the version and the uncommitted list alone.
	if err := aggregate.Apply(&game.ColonizePlanet{PlayerID: "ghost", PlanetID: planet}); err == nil {
		t.Fatal("expected unknown player to fail")
	}
	if aggregate.Version() != 1 || len(aggregate.Uncommitted()) != 1 {
		t.Fatal("failed apply must not advance state")
	}

	aggregate.ClearUncommitted()
	if len(aggregate.Uncommitted()) != 0 {
		t.Fatal("clear must drop the uncommitted list")
	}
}
