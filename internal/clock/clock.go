// Package clock drives the fixed-rate tick schedule feeding the AI scheduler
// and any other tick consumers.
package clock

import (
	"context"
	"sync"
	"time"

	"galaxion/sync/internal/logging"
)

// Tick is one clock pulse delivered to every subscriber.
type Tick struct {
	Number    uint64    `json:"number"`
	Timestamp time.Time `json:"timestamp"`
}

// Option configures optional Clock behaviour at construction time.
type Option func(*Clock)

// WithClockNow overrides the wall-clock time source for deterministic tests.
func WithClockNow(now func() time.Time) Option {
	return func(c *Clock) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger attaches a logger used for overrun warnings.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Clock) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Clock emits a monotonically increasing tick at a fixed rate to every
// subscriber. Ticks are never skipped or repeated; when dispatch overruns the
// period the next tick fires immediately and a warning is logged, so cadence
// may degrade under load but the sequence stays dense.
type Clock struct {
	period  time.Duration
	now     func() time.Time
	logger  *logging.Logger
	monitor *TickMonitor

	mu      sync.Mutex
	subs    []chan Tick
	started bool
}

// New configures a clock targeting the provided ticks per second.
func New(rate int, opts ...Option) *Clock {
	if rate <= 0 {
		rate = 10
	}
	clock := &Clock{
		period:  time.Duration(int64(time.Second) / int64(rate)),
		now:     time.Now,
		logger:  logging.NewTestLogger(),
		monitor: NewTickMonitor(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(clock)
		}
	}
	return clock
}

// Period exposes the configured tick interval.
func (c *Clock) Period() time.Duration {
	if c == nil {
		return 0
	}
	return c.period
}

// Monitor exposes the tick timing statistics collector.
func (c *Clock) Monitor() *TickMonitor {
	if c == nil {
		return nil
	}
	return c.monitor
}

// Subscribe registers a new consumer channel before the clock starts. Every
// subscriber observes the identical tick sequence.
func (c *Clock) Subscribe(buffer int) <-chan Tick {
	if c == nil {
		return nil
	}
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Tick, buffer)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// Run emits ticks until the context is cancelled, then closes every
// subscriber channel once the in-flight tick has been dispatched.
func (c *Clock) Run(ctx context.Context) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	subs := append([]chan Tick(nil), c.subs...)
	c.mu.Unlock()

	defer func() {
		//1.- Complete the broadcast so consumers observe an orderly end of the stream.
		for _, ch := range subs {
			close(ch)
		}
	}()

	var number uint64
	next := c.now()
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		now := c.now()
		if wait := next.Sub(now); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		} else if number > 0 && wait < -c.period {
			//1.- Dispatch overran a full period, so warn and fire immediately without sleeping.
			c.logger.Warn("tick overrun",
				logging.Uint64("tick", number),
				logging.Duration("behind", -wait))
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		number++
		started := c.now()
		tick := Tick{Number: number, Timestamp: started}
		for _, ch := range subs {
			//2.- Block rather than drop so every subscriber sees a dense
			// sequence. Cancellation is honoured between ticks only, so the
			// in-flight tick reaches all subscribers before the stream ends.
			ch <- tick
		}
		c.monitor.Observe(c.now().Sub(started))
		next = next.Add(c.period)
	}
}
