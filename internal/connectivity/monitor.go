// Package connectivity tracks whether the device can reach the sync server
// and notifies subscribers when that changes.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is one connectivity observation. Connected means a network interface
// is up; InternetReachable means the sync server actually answered a probe.
// A captive portal is the classic case of the first without the second.
type State struct {
	Connected         bool
	InternetReachable bool
}

// Online reports whether the device can usefully talk to the server.
func (s State) Online() bool { return s.Connected && s.InternetReachable }

// Probe answers a single reachability check. pkg/client implements this
// against the server's health endpoint.
type Probe interface {
	Check(ctx context.Context) (State, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) (State, error)

func (f ProbeFunc) Check(ctx context.Context) (State, error) { return f(ctx) }

// Monitor polls a Probe on a fixed interval and fans out state transitions
// to subscribers. Only changes are delivered; a steady state produces no
// notifications. External signals (an OS network-change event, a test) can
// inject a state directly with Set.
type Monitor struct {
	probe    Probe
	interval time.Duration

	mu     sync.Mutex
	cur    State
	subs   map[int]chan State
	nextID int

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor starts with everything offline until the first probe or Set.
func NewMonitor(probe Probe, interval time.Duration) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		subs:     make(map[int]chan State),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop. The first probe fires immediately so
// startup does not wait a full interval to learn the real state.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()
	go m.run()
}

func (m *Monitor) run() {
	defer close(m.done)

	m.pollOnce()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.pollOnce()
		}
	}
}

func (m *Monitor) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	st, err := m.probe.Check(ctx)
	if err != nil {
		// A failed probe is an observation too: the server is unreachable.
		st = State{Connected: st.Connected}
	}
	m.Set(st)
}

// Set records a state observation and notifies subscribers if it differs
// from the current one.
func (m *Monitor) Set(st State) {
	m.mu.Lock()
	if st == m.cur {
		m.mu.Unlock()
		return
	}
	prev := m.cur
	m.cur = st
	chans := make([]chan State, 0, len(m.subs))
	for _, ch := range m.subs {
		chans = append(chans, ch)
	}
	m.mu.Unlock()

	slog.Debug("connectivity: state change",
		"online", st.Online(), "connected", st.Connected, "reachable", st.InternetReachable,
		"was_online", prev.Online())

	for _, ch := range chans {
		select {
		case ch <- st:
		default:
			// Subscriber is behind. Drop the older update so it sees the
			// latest state on its next receive.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

// Current returns the most recent observation.
func (m *Monitor) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Subscribe registers a listener for state transitions. The returned cancel
// func unregisters it; callers must cancel when done or the channel leaks.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
	return ch, cancel
}

// Stop terminates the polling loop and waits for it to exit. Safe to call
// more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.done
	}
}
