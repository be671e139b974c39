package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"galaxion/sync/internal/game"
)

// SQLiteBackend persists the event log and world snapshots in a single SQLite
// database. Snapshot blobs are zstd-compressed JSON.
type SQLiteBackend struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// OpenSQLite opens or creates the database at path and prepares the schema.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errors.New("database path must be provided")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The modernc driver serializes access; a single connection avoids
	// SQLITE_BUSY churn for this append-heavy workload.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		_ = db.Close()
		return nil, err
	}
	return &SQLiteBackend{db: db, enc: enc, dec: dec}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
			session_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (session_id, version)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			session_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			world BLOB NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// AppendEvent inserts the envelope; the (session_id, version) primary key
// rejects gaps introduced by concurrent writers.
func (b *SQLiteBackend) AppendEvent(ctx context.Context, env Envelope) error {
	payload, err := game.EncodeEvent(env.Event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO events (session_id, version, created_at, kind, payload) VALUES (?, ?, ?, ?, ?)`,
		env.SessionID, env.Version, env.Timestamp.UTC().Format(time.RFC3339Nano), env.Event.Kind(), payload)
	return err
}

// EventsSince reads the ordered history strictly after afterVersion.
func (b *SQLiteBackend) EventsSince(ctx context.Context, sessionID string, afterVersion uint64) ([]Envelope, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT version, created_at, payload FROM events WHERE session_id = ? AND version > ? ORDER BY version`,
		sessionID, afterVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Envelope
	for rows.Next() {
		var (
			version uint64
			created string
			payload []byte
		)
		if err := rows.Scan(&version, &created, &payload); err != nil {
			return nil, err
		}
		event, err := game.DecodeEvent(payload)
		if err != nil {
			return nil, fmt.Errorf("decode event %s v%d: %w", sessionID, version, err)
		}
		timestamp, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp %s v%d: %w", sessionID, version, err)
		}
		out = append(out, Envelope{
			SessionID: sessionID,
			Version:   version,
			Timestamp: timestamp,
			Event:     event,
		})
	}
	return out, rows.Err()
}

// LatestVersion reports the highest stored version for the session.
func (b *SQLiteBackend) LatestVersion(ctx context.Context, sessionID string) (uint64, error) {
	var latest uint64
	err := b.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE session_id = ?`, sessionID).Scan(&latest)
	return latest, err
}

// SaveSnapshot upserts the compressed world blob for the session.
func (b *SQLiteBackend) SaveSnapshot(ctx context.Context, sessionID string, version uint64, world *game.World) error {
	if world == nil {
		return errors.New("world must not be nil")
	}
	raw, err := json.Marshal(world)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	blob := b.enc.EncodeAll(raw, nil)
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO snapshots (session_id, version, created_at, world) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET version = excluded.version,
			created_at = excluded.created_at, world = excluded.world`,
		sessionID, version, time.Now().UTC().Format(time.RFC3339Nano), blob)
	return err
}

// LoadSnapshot decompresses and decodes the stored world, or ErrNoSnapshot.
func (b *SQLiteBackend) LoadSnapshot(ctx context.Context, sessionID string) (*game.World, uint64, error) {
	var (
		version uint64
		blob    []byte
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT version, world FROM snapshots WHERE session_id = ?`, sessionID).Scan(&version, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNoSnapshot
	}
	if err != nil {
		return nil, 0, err
	}
	raw, err := b.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("decompress snapshot: %w", err)
	}
	world := &game.World{}
	if err := json.Unmarshal(raw, world); err != nil {
		return nil, 0, fmt.Errorf("decode snapshot: %w", err)
	}
	return world, version, nil
}

// Close releases the database handle and compression state.
func (b *SQLiteBackend) Close() error {
	if b == nil {
		return nil
	}
	b.enc.Close()
	b.dec.Close()
	return b.db.Close()
}
