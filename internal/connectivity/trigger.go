package connectivity

import (
	"context"
	"log/slog"
	"sync"
)

// Trigger watches a Monitor and kicks off an outbox sync on every
// offline→online transition, provided there is something to send. Wiring is
// by callback so the trigger knows nothing about stores or transports.
type Trigger struct {
	monitor    *Monitor
	hasPending func() bool
	sync       func(ctx context.Context) error

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewTrigger wires the edge detector. hasPending gates the sync call: coming
// back online with an empty outbox does nothing.
func NewTrigger(m *Monitor, hasPending func() bool, sync func(ctx context.Context) error) *Trigger {
	return &Trigger{
		monitor:    m,
		hasPending: hasPending,
		sync:       sync,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins watching. The subscription is taken before Start returns, so
// no transition after the call can be missed. The passed context bounds
// every sync call the trigger makes.
func (t *Trigger) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	// Snapshot the baseline before subscribing. A transition landing
	// between the two calls is then seen as an edge from the older state
	// (at worst a duplicate fire, absorbed by the syncer's in-flight
	// guard) instead of being swallowed.
	prev := t.monitor.Current()
	states, cancel := t.monitor.Subscribe()
	go t.run(ctx, states, cancel, prev)
}

func (t *Trigger) run(ctx context.Context, states <-chan State, cancel func(), prev State) {
	defer close(t.done)
	defer cancel()

	// A transition that landed between the baseline snapshot and the
	// subscription produced no channel delivery; pick it up here.
	if cur := t.monitor.Current(); cur != prev {
		if !prev.Online() && cur.Online() {
			t.fire(ctx)
		}
		prev = cur
	}

	for {
		select {
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		case st := <-states:
			if !prev.Online() && st.Online() {
				t.fire(ctx)
			}
			prev = st
		}
	}
}

func (t *Trigger) fire(ctx context.Context) {
	if !t.hasPending() {
		slog.Debug("connectivity: back online, outbox empty")
		return
	}
	slog.Info("connectivity: back online, syncing outbox")
	if err := t.sync(ctx); err != nil {
		// An in-flight or failed pass is not fatal here; the next
		// transition or manual sync retries.
		slog.Warn("connectivity: triggered sync failed", "err", err)
	}
}

// Stop terminates the watcher and waits for it to exit. Safe to call more
// than once, or without a prior Start.
func (t *Trigger) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if started {
		<-t.done
	}
}
