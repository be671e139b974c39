// Package broadcast fans computed deltas and event envelopes out to the
// session-scoped transport sink and the audit journal.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"galaxion/sync/internal/delta"
	"galaxion/sync/internal/eventstore"
	"galaxion/sync/internal/game"
	"galaxion/sync/internal/logging"
)

// Sink is the transport collaborator delivering payloads to every connection
// joined to a session's group. Delivery is at-most-once per attempt; retry
// and catch-up policy belong to the transport, not this pipeline.
type Sink interface {
	SendUpdates(ctx context.Context, sessionID string, updates []delta.Update) error
	SendWorld(ctx context.Context, sessionID string, world *game.World) error
}

// Journal records published envelopes for offline audit.
type Journal interface {
	Append(env eventstore.Envelope) error
}

// Option configures optional Pipeline behaviour.
type Option func(*Pipeline)

// WithSendTimeout bounds each sink send.
func WithSendTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithLogger attaches a logger for send failures.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithJournal attaches the audit journal fed by the event-store subscription.
func WithJournal(journal Journal) Option {
	return func(p *Pipeline) {
		p.journal = journal
	}
}

// DefaultSendTimeout bounds one delivery attempt to the sink.
const DefaultSendTimeout = 10 * time.Second

// Pipeline applies the bounded-send contract in front of the sink and feeds
// the journal from event-store envelopes. Failures are surfaced to callers
// and logged; the pipeline never retries on its own.
type Pipeline struct {
	sink    Sink
	journal Journal
	timeout time.Duration
	logger  *logging.Logger
}

// New constructs a pipeline over the given sink.
func New(sink Sink, opts ...Option) *Pipeline {
	pipeline := &Pipeline{
		sink:    sink,
		timeout: DefaultSendTimeout,
		logger:  logging.NewTestLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(pipeline)
		}
	}
	return pipeline
}

// SendUpdates delivers a delta list to the session's group within the send
// deadline. The error is surfaced to the caller; retrying is their policy.
func (p *Pipeline) SendUpdates(ctx context.Context, sessionID string, updates []delta.Update) error {
	if p == nil || p.sink == nil {
		return errors.New("broadcast sink not configured")
	}
	if len(updates) == 0 {
		return nil
	}
	sendCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.sink.SendUpdates(sendCtx, sessionID, updates); err != nil {
		p.logger.Error("delta send failed",
			logging.String("session_id", sessionID),
			logging.Int("updates", len(updates)),
			logging.Error(err))
		return fmt.Errorf("send updates for %s: %w", sessionID, err)
	}
	return nil
}

// SendWorld delivers a full world snapshot to the session's group, used for
// transport-level catch-up on join.
func (p *Pipeline) SendWorld(ctx context.Context, sessionID string, world *game.World) error {
	if p == nil || p.sink == nil {
		return errors.New("broadcast sink not configured")
	}
	sendCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.sink.SendWorld(sendCtx, sessionID, world); err != nil {
		p.logger.Error("world send failed",
			logging.String("session_id", sessionID),
			logging.Error(err))
		return fmt.Errorf("send world for %s: %w", sessionID, err)
	}
	return nil
}

// HandleEnvelope is the event-store subscription feeding the audit journal.
func (p *Pipeline) HandleEnvelope(_ context.Context, env eventstore.Envelope) error {
	if p == nil || p.journal == nil {
		return nil
	}
	if err := p.journal.Append(env); err != nil {
		return fmt.Errorf("journal envelope %s v%d: %w", env.SessionID, env.Version, err)
	}
	return nil
}
