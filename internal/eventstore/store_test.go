package eventstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"galaxion/sync/internal/game"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
}

func TestPublishAssignsDenseVersions(t *testing.T) {
	store := New(NewMemoryBackend(), WithNow(fixedNow))
	ctx := context.Background()

	//1.- Versions start at one and climb without gaps.
	for want := uint64(1); want <= 3; want++ {
		env, err := store.Publish(ctx, "s1", &game.Diplomacy{PlayerID: "alice", TargetPlayerID: "bob", Stance: "ally"})
		if err != nil {
			t.Fatalf("publish %d: %v", want, err)
		}
		if env.Version != want {
			t.Fatalf("expected version %d, got %d", want, env.Version)
		}
		if !env.Timestamp.Equal(fixedNow()) {
			t.Fatalf("unexpected timestamp %v", env.Timestamp)
		}
	}

	//2.- A second session's version sequence is independent.
	env, err := store.Publish(ctx, "s2", &game.ColonizePlanet{PlayerID: "alice", PlanetID: "p1"})
	if err != nil {
		t.Fatalf("publish s2: %v", err)
	}
	if env.Version != 1 {
		t.Fatalf("expected version 1 for fresh session, got %d", env.Version)
	}
}

func TestPublishValidatesInput(t *testing.T) {
	store := New(NewMemoryBackend())
	ctx := context.Background()

	if _, err := store.Publish(ctx, "  ", &game.ColonizePlanet{}); err == nil {
		t.Fatal("expected error for blank session id")
	}
	if _, err := store.Publish(ctx, "s1", nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}

func TestVersionSeedsFromPersistedHistory(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	first := New(backend)
	if _, err := first.Publish(ctx, "s1", &game.ColonizePlanet{PlayerID: "alice", PlanetID: "p1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	//1.- A fresh store over the same backend continues the sequence, modelling a restart.
	second := New(backend)
	env, err := second.Publish(ctx, "s1", &game.ColonizePlanet{PlayerID: "alice", PlanetID: "p2"})
	if err != nil {
		t.Fatalf("publish after restart: %v", err)
	}
	if env.Version != 2 {
		t.Fatalf("expected version 2 after restart, got %d", env.Version)
	}
}

func TestSubscribersAreIsolated(t *testing.T) {
	store := New(NewMemoryBackend(), WithPublishTimeout(time.Second))
	ctx := context.Background()

	var received []Envelope
	failing := store.Subscribe(func(context.Context, Envelope) error {
		return errors.New("boom")
	})
	defer failing()
	healthy := store.Subscribe(func(_ context.Context, env Envelope) error {
		received = append(received, env)
		return nil
	})
	defer healthy()

	//1.- The failing subscriber must not prevent delivery to the healthy one.
	if _, err := store.Publish(ctx, "s1", &game.ColonizePlanet{PlayerID: "alice", PlanetID: "p1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(received) != 1 || received[0].Version != 1 {
		t.Fatalf("healthy subscriber missed the envelope: %+v", received)
	}
}

func TestSlowSubscriberIsTimeBoxed(t *testing.T) {
	store := New(NewMemoryBackend(), WithPublishTimeout(20*time.Millisecond))
	ctx := context.Background()

	release := make(chan struct{})
	defer close(release)
	slow := store.Subscribe(func(context.Context, Envelope) error {
		<-release
		return nil
	})
	defer slow()

	//1.- Publish must return despite the wedged subscriber.
	start := time.Now()
	if _, err := store.Publish(ctx, "s1", &game.ColonizePlanet{PlayerID: "alice", PlanetID: "p1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish blocked for %v", elapsed)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	store := New(NewMemoryBackend())
	ctx := context.Background()

	count := 0
	unsubscribe := store.Subscribe(func(context.Context, Envelope) error {
		count++
		return nil
	})
	if _, err := store.Publish(ctx, "s1", &game.ColonizePlanet{PlayerID: "alice", PlanetID: "p1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	unsubscribe()
	if _, err := store.Publish(ctx, "s1", &game.ColonizePlanet{PlayerID: "alice", PlanetID: "p2"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one delivery, got %d", count)
	}
}

func TestEventsSinceFiltersByVersion(t *testing.T) {
	store := New(NewMemoryBackend())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Publish(ctx, "s1", &game.Diplomacy{PlayerID: "alice", TargetPlayerID: "bob", Stance: "ally"}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	tail, err := store.EventsSince(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("events since: %v", err)
	}
	if len(tail) != 2 || tail[0].Version != 2 || tail[1].Version != 3 {
		t.Fatalf("unexpected tail %+v", tail)
	}
}

func TestSnapshotRoundtrip(t *testing.T) {
	store := New(NewMemoryBackend())
	ctx := context.Background()

	if _, _, err := store.LoadSnapshot(ctx, "s1"); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}

	world := &game.World{SessionID: "s1", Name: "galaxy-s1", Players: []game.Player{{ID: "alice"}}}
	if err := store.SaveSnapshot(ctx, "s1", 7, world); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	restored, version, err := store.LoadSnapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if version != 7 || restored.Name != "galaxy-s1" || len(restored.Players) != 1 {
		t.Fatalf("unexpected snapshot %d %+v", version, restored)
	}

	//1.- The backend stores a copy, so mutating the original must not leak.
	world.Players[0].Name = "mutated"
	again, _, err := store.LoadSnapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("reload snapshot: %v", err)
	}
	if again.Players[0].Name == "mutated" {
		t.Fatal("snapshot shares memory with the caller's world")
	}
}
