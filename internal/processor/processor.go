// Package processor drains per-session command queues, applies commands to
// the authoritative aggregate and feeds the persistence and broadcast stages.
package processor

import (
	"context"

	"galaxion/sync/internal/delta"
	"galaxion/sync/internal/eventstore"
	"galaxion/sync/internal/logging"
	"galaxion/sync/internal/queue"
	"galaxion/sync/internal/session"
)

// Broadcaster receives non-empty deltas for a session after a drain pass.
type Broadcaster interface {
	SendUpdates(ctx context.Context, sessionID string, updates []delta.Update) error
}

// Option configures optional Processor behaviour.
type Option func(*Processor)

// WithLogger attaches a logger for per-command failures.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSnapshotEvery overrides the per-session snapshot cadence.
func WithSnapshotEvery(every uint64) Option {
	return func(p *Processor) {
		if every > 0 {
			p.snapshotEvery = every
		}
	}
}

// DefaultSnapshotEvery persists a snapshot after this many events per session.
const DefaultSnapshotEvery = 100

// Processor is the single writer of session worlds: it wakes on queue
// notifications, drains the session FIFO, applies each command, persists the
// resulting events, and ships a minimal delta to the broadcaster.
type Processor struct {
	queue         *queue.Queue
	manager       *session.Manager
	store         *eventstore.Store
	broadcaster   Broadcaster
	snapshotEvery uint64
	logger        *logging.Logger
}

// New constructs a processor over the shared pipeline collaborators.
func New(commandQueue *queue.Queue, manager *session.Manager, store *eventstore.Store, broadcaster Broadcaster, opts ...Option) *Processor {
	processor := &Processor{
		queue:         commandQueue,
		manager:       manager,
		store:         store,
		broadcaster:   broadcaster,
		snapshotEvery: DefaultSnapshotEvery,
		logger:        logging.NewTestLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(processor)
		}
	}
	return processor
}

// Run blocks on pending-session notifications until the context is cancelled.
// Cancellation is honoured between sessions, never mid-drain, so a world is
// never abandoned half-mutated.
func (p *Processor) Run(ctx context.Context) {
	if p == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case sessionID, ok := <-p.queue.Pending():
			if !ok {
				return
			}
			if _, err := p.DrainSession(ctx, sessionID); err != nil {
				p.logger.Error("session drain failed",
					logging.String("session_id", sessionID),
					logging.Error(err))
			}
		}
	}
}

// DrainSession empties the session's queue, returning how many commands were
// applied. A failing command is logged and dropped; draining continues.
func (p *Processor) DrainSession(ctx context.Context, sessionID string) (int, error) {
	if p == nil {
		return 0, nil
	}
	//1.- Re-arm queue notifications on the way out so later enqueues wake us again.
	defer p.queue.Rearm(sessionID)

	aggregate, err := p.manager.GetOrCreate(ctx, sessionID, nil)
	if err != nil {
		return 0, err
	}

	processed := 0
	for {
		command, ok := p.queue.TryDequeue(sessionID)
		if !ok {
			break
		}
		//2.- Checkpoint the pre-apply state so a failed publish can be undone.
		checkpoint := aggregate.WorldCopy()
		checkpointVersion := aggregate.Version()
		if err := aggregate.Apply(command); err != nil {
			//3.- The command is fatal only for itself; the rest of the backlog proceeds.
			p.logger.Error("command application failed",
				logging.String("session_id", sessionID),
				logging.String("kind", command.Kind()),
				logging.Error(err))
			continue
		}
		envelope, err := p.store.Publish(ctx, sessionID, command)
		if err != nil {
			//4.- Roll the world back so the aggregate never runs ahead of the
			// committed log; otherwise a later snapshot would shadow committed
			// events out of replay.
			aggregate.LoadFromSnapshot(checkpoint, checkpointVersion)
			p.logger.Error("event publish failed",
				logging.String("session_id", sessionID),
				logging.String("kind", command.Kind()),
				logging.Error(err))
			continue
		}
		aggregate.ClearUncommitted()
		processed++

		if total := p.manager.IncrementEventCount(sessionID); total%p.snapshotEvery == 0 {
			p.persistSnapshot(ctx, sessionID, envelope.Version, aggregate)
		}
	}

	if processed > 0 {
		p.publishDelta(ctx, sessionID, aggregate)
	}
	return processed, nil
}

// publishDelta diffs the session against its last-sent baseline, ships any
// non-empty update list, and refreshes the baseline either way.
func (p *Processor) publishDelta(ctx context.Context, sessionID string, aggregate *session.Aggregate) {
	current := aggregate.WorldCopy()
	previous := p.manager.PreviousWorldState(sessionID)

	updates := delta.Compute(previous, current)
	if len(updates) > 0 && p.broadcaster != nil {
		if err := p.broadcaster.SendUpdates(ctx, sessionID, updates); err != nil {
			p.logger.Error("delta broadcast failed",
				logging.String("session_id", sessionID),
				logging.Int("updates", len(updates)),
				logging.Error(err))
		}
	}
	//1.- Baseline tracks the last computed state even when the send failed, so
	// clients resync via a full world rather than replayed diffs.
	p.manager.SetPreviousWorldState(sessionID, current)
}

// persistSnapshot stores the current world keyed by the store-assigned version
// of the last committed envelope, so replay bounded by the snapshot can never
// skip a committed event.
func (p *Processor) persistSnapshot(ctx context.Context, sessionID string, version uint64, aggregate *session.Aggregate) {
	world := aggregate.WorldCopy()
	if world == nil {
		return
	}
	if err := p.store.SaveSnapshot(ctx, sessionID, version, world); err != nil {
		p.logger.Warn("snapshot persistence failed",
			logging.String("session_id", sessionID),
			logging.Uint64("version", version),
			logging.Error(err))
	}
}
