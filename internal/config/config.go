package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the sync server listens on.
	DefaultAddr = ":43200"
	// DefaultTickRate is the clock frequency in ticks per second.
	DefaultTickRate = 10
	// DefaultPublishTimeout bounds each event-store subscriber invocation.
	DefaultPublishTimeout = 30 * time.Second
	// DefaultBroadcastTimeout bounds delta and world sends to the transport sink.
	DefaultBroadcastTimeout = 10 * time.Second
	// DefaultShutdownGrace bounds how long in-flight work may run during shutdown.
	DefaultShutdownGrace = 10 * time.Second
	// DefaultSnapshotEvery persists a world snapshot after this many events per session.
	DefaultSnapshotEvery = 100

	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound HTTP and WebSocket payload size.
	DefaultMaxPayloadBytes int64 = 1 << 20

	// DefaultLogLevel controls verbosity for sync server logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "sync.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the sync server.
type Config struct {
	Address          string
	AllowedOrigins   []string
	MaxPayloadBytes  int64
	PingInterval     time.Duration
	TickRate         int
	PublishTimeout   time.Duration
	BroadcastTimeout time.Duration
	ShutdownGrace    time.Duration
	SnapshotEvery    uint64
	EventStorePath   string
	JournalDir       string
	AITuningPath     string
	Logging          LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the sync server configuration from environment variables, applying
// sane defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:          getString("SYNC_ADDR", DefaultAddr),
		AllowedOrigins:   parseList(os.Getenv("SYNC_ALLOWED_ORIGINS")),
		MaxPayloadBytes:  DefaultMaxPayloadBytes,
		PingInterval:     DefaultPingInterval,
		TickRate:         DefaultTickRate,
		PublishTimeout:   DefaultPublishTimeout,
		BroadcastTimeout: DefaultBroadcastTimeout,
		ShutdownGrace:    DefaultShutdownGrace,
		SnapshotEvery:    DefaultSnapshotEvery,
		EventStorePath:   strings.TrimSpace(os.Getenv("SYNC_DB_PATH")),
		JournalDir:       strings.TrimSpace(os.Getenv("SYNC_JOURNAL_DIR")),
		AITuningPath:     strings.TrimSpace(os.Getenv("SYNC_AI_TUNING")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("SYNC_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("SYNC_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("SYNC_TICK_RATE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_TICK_RATE must be a positive integer, got %q", raw))
		} else {
			cfg.TickRate = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SYNC_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SYNC_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SYNC_PUBLISH_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_PUBLISH_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.PublishTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SYNC_BROADCAST_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_BROADCAST_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.BroadcastTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SYNC_SHUTDOWN_GRACE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_SHUTDOWN_GRACE must be a positive duration, got %q", raw))
		} else {
			cfg.ShutdownGrace = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SYNC_SNAPSHOT_EVERY")); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || value == 0 {
			problems = append(problems, fmt.Sprintf("SYNC_SNAPSHOT_EVERY must be a positive integer, got %q", raw))
		} else {
			cfg.SnapshotEvery = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SYNC_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SYNC_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("SYNC_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SYNC_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("SYNC_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SYNC_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("SYNC_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
