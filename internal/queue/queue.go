// Package queue buffers not-yet-applied commands per session and wakes the
// drain loop when work arrives.
package queue

import (
	"errors"
	"strings"
	"sync"

	"galaxion/sync/internal/game"
)

// ErrInvalidSessionID is returned when an enqueue omits the session identifier.
var ErrInvalidSessionID = errors.New("session id must not be empty")

// ErrNilCommand is returned when an enqueue omits the command payload.
var ErrNilCommand = errors.New("command must not be nil")

// Message pairs a pending command with its target session.
type Message struct {
	SessionID string
	Command   game.Event
}

// Queue maintains an independent FIFO per session. Enqueue and TryDequeue are
// safe under concurrent callers; one session's backlog never blocks another's
// because locking is per session.
type Queue struct {
	mu       sync.RWMutex
	sessions map[string]*sessionQueue
	wake     chan string
}

// sessionQueue holds one session's pending commands behind its own lock.
type sessionQueue struct {
	mu    sync.Mutex
	items []game.Event
	// armed marks that the next enqueue owes the drain loop a wake-up.
	armed bool
}

// New constructs an empty queue. wakeBuffer bounds the pending-session
// notification channel; one slot per live session suffices because wake-ups
// coalesce per session.
func New(wakeBuffer int) *Queue {
	if wakeBuffer <= 0 {
		wakeBuffer = 1024
	}
	return &Queue{
		sessions: make(map[string]*sessionQueue),
		wake:     make(chan string, wakeBuffer),
	}
}

// Pending exposes the channel of session ids with newly available commands.
func (q *Queue) Pending() <-chan string {
	if q == nil {
		return nil
	}
	return q.wake
}

// Enqueue appends the command to the session's FIFO, creating the queue on
// first use, and notifies the drain loop when the session was previously idle.
func (q *Queue) Enqueue(sessionID string, command game.Event) error {
	if q == nil {
		return errors.New("queue is nil")
	}
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return ErrInvalidSessionID
	}
	if command == nil {
		return ErrNilCommand
	}

	sq := q.sessionQueue(trimmed)
	sq.mu.Lock()
	sq.items = append(sq.items, command)
	notify := sq.armed
	sq.armed = false
	sq.mu.Unlock()

	if notify {
		q.notify(trimmed)
	}
	return nil
}

// TryDequeue pops the oldest pending command for the session, reporting false
// when the session has no backlog.
func (q *Queue) TryDequeue(sessionID string) (game.Event, bool) {
	if q == nil {
		return nil, false
	}
	q.mu.RLock()
	sq, ok := q.sessions[sessionID]
	q.mu.RUnlock()
	if !ok {
		return nil, false
	}

	sq.mu.Lock()
	defer sq.mu.Unlock()
	if len(sq.items) == 0 {
		return nil, false
	}
	command := sq.items[0]
	sq.items = sq.items[1:]
	return command, true
}

// Len reports the current backlog depth for the session.
func (q *Queue) Len(sessionID string) int {
	if q == nil {
		return 0
	}
	q.mu.RLock()
	sq, ok := q.sessions[sessionID]
	q.mu.RUnlock()
	if !ok {
		return 0
	}
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return len(sq.items)
}

// Rearm re-enables wake-ups for the session after a drain pass. When commands
// slipped in between the final TryDequeue and this call the session is
// re-notified immediately so no work is stranded.
func (q *Queue) Rearm(sessionID string) {
	if q == nil {
		return
	}
	q.mu.RLock()
	sq, ok := q.sessions[sessionID]
	q.mu.RUnlock()
	if !ok {
		return
	}

	sq.mu.Lock()
	sq.armed = true
	renotify := len(sq.items) > 0
	if renotify {
		sq.armed = false
	}
	sq.mu.Unlock()

	if renotify {
		q.notify(sessionID)
	}
}

// Remove discards the session's queue entirely, dropping any backlog.
func (q *Queue) Remove(sessionID string) {
	if q == nil {
		return
	}
	q.mu.Lock()
	delete(q.sessions, sessionID)
	q.mu.Unlock()
}

func (q *Queue) sessionQueue(sessionID string) *sessionQueue {
	q.mu.RLock()
	sq, ok := q.sessions[sessionID]
	q.mu.RUnlock()
	if ok {
		return sq
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if sq, ok = q.sessions[sessionID]; ok {
		return sq
	}
	sq = &sessionQueue{armed: true}
	q.sessions[sessionID] = sq
	return sq
}

func (q *Queue) notify(sessionID string) {
	select {
	case q.wake <- sessionID:
	default:
		//1.- The buffer is exhausted, so hand the wake-up to a goroutine rather than lose it.
		go func() { q.wake <- sessionID }()
	}
}
