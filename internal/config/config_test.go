package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Address != DefaultAddr {
		t.Fatalf("expected default address %s, got %s", DefaultAddr, cfg.Address)
	}
	if cfg.TickRate != DefaultTickRate {
		t.Fatalf("expected default tick rate %d, got %d", DefaultTickRate, cfg.TickRate)
	}
	if cfg.PublishTimeout != DefaultPublishTimeout || cfg.BroadcastTimeout != DefaultBroadcastTimeout {
		t.Fatalf("unexpected default timeouts %v %v", cfg.PublishTimeout, cfg.BroadcastTimeout)
	}
	if cfg.SnapshotEvery != DefaultSnapshotEvery {
		t.Fatalf("expected default snapshot cadence %d, got %d", DefaultSnapshotEvery, cfg.SnapshotEvery)
	}
	if cfg.Logging.Level != DefaultLogLevel || cfg.Logging.Path != DefaultLogPath {
		t.Fatalf("unexpected default logging %+v", cfg.Logging)
	}
}

func TestLoadHonoursOverrides(t *testing.T) {
	t.Setenv("SYNC_ADDR", ":9000")
	t.Setenv("SYNC_TICK_RATE", "20")
	t.Setenv("SYNC_PUBLISH_TIMEOUT", "5s")
	t.Setenv("SYNC_SHUTDOWN_GRACE", "3s")
	t.Setenv("SYNC_SNAPSHOT_EVERY", "50")
	t.Setenv("SYNC_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SYNC_DB_PATH", "/tmp/sync.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != ":9000" || cfg.TickRate != 20 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.PublishTimeout != 5*time.Second || cfg.ShutdownGrace != 3*time.Second {
		t.Fatalf("duration overrides not applied: %+v", cfg)
	}
	if cfg.SnapshotEvery != 50 || cfg.EventStorePath != "/tmp/sync.db" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origin list not parsed: %v", cfg.AllowedOrigins)
	}
}

func TestLoadCollectsEveryProblem(t *testing.T) {
	t.Setenv("SYNC_TICK_RATE", "banana")
	t.Setenv("SYNC_PUBLISH_TIMEOUT", "-2s")
	t.Setenv("SYNC_SNAPSHOT_EVERY", "0")

	//1.- Every invalid override appears in one combined error.
	_, err := Load()
	if err == nil {
		t.Fatal("expected combined validation error")
	}
	for _, key := range []string{"SYNC_TICK_RATE", "SYNC_PUBLISH_TIMEOUT", "SYNC_SNAPSHOT_EVERY"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error does not mention %s: %v", key, err)
		}
	}
}
