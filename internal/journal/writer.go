// Package journal streams published event envelopes to a compressed on-disk
// bundle for offline audit and debugging.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"

	"galaxion/sync/internal/eventstore"
	"galaxion/sync/internal/game"
)

var bundleNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Writer appends one JSON line per envelope to a snappy-compressed stream.
// It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	dir    string
	now    func() time.Time
	file   *os.File
	stream *snappy.Writer
	closed bool
}

// Manifest describes the journal bundle layout so tooling can locate the log.
type Manifest struct {
	Version    int    `json:"version"`
	CreatedAt  string `json:"created_at"`
	EventsPath string `json:"events_path"`
}

// NewWriter prepares the journal directory and opens the compressed sink.
func NewWriter(root, label string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("journal root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := bundleNameCleaner.ReplaceAllString(label, "")
	if cleaned == "" {
		cleaned = "sync"
	}
	created := clock().UTC()
	folder := fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z"))
	path := filepath.Join(root, folder)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	eventsPath := filepath.Join(path, "events.jsonl.sz")
	manifestPath := filepath.Join(path, "manifest.json")

	file, err := os.Create(eventsPath)
	if err != nil {
		return nil, Manifest{}, err
	}
	stream := snappy.NewBufferedWriter(file)

	manifest := Manifest{
		Version:    1,
		CreatedAt:  created.Format(time.RFC3339Nano),
		EventsPath: "events.jsonl.sz",
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		stream.Close()
		file.Close()
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		stream.Close()
		file.Close()
		return nil, Manifest{}, err
	}

	writer := &Writer{
		dir:    path,
		now:    clock,
		file:   file,
		stream: stream,
	}
	return writer, manifest, nil
}

// Directory exposes the directory backing the journal bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// Append writes a single JSON envelope line to the compressed log.
func (w *Writer) Append(env eventstore.Envelope) error {
	if w == nil {
		return fmt.Errorf("journal writer not initialised")
	}
	payload, err := game.EncodeEvent(env.Event)
	if err != nil {
		return fmt.Errorf("encode event for journal: %w", err)
	}
	//1.- Self-describing JSONL lines keep the log streamable by external tooling.
	record := struct {
		SessionID  string          `json:"session_id"`
		Version    uint64          `json:"version"`
		Timestamp  string          `json:"timestamp"`
		Kind       string          `json:"kind"`
		Actor      string          `json:"actor"`
		RecordedAt string          `json:"recorded_at"`
		Event      json.RawMessage `json:"event"`
	}{
		SessionID:  env.SessionID,
		Version:    env.Version,
		Timestamp:  env.Timestamp.Format(time.RFC3339Nano),
		Kind:       env.Event.Kind(),
		Actor:      env.Event.Actor(),
		RecordedAt: w.now().UTC().Format(time.RFC3339Nano),
		Event:      payload,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("journal writer closed")
	}
	if _, err := w.stream.Write(line); err != nil {
		return err
	}
	if _, err := w.stream.Write([]byte("\n")); err != nil {
		return err
	}
	return w.stream.Flush()
}

// Close flushes the stream and releases the file handle.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	if err := w.stream.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.stream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
