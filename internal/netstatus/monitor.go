// Package netstatus owns the process-wide connectivity state.
//
// A single [Monitor] holds the current online/offline value. It is mutated
// by platform signals ([Monitor.Set]) and by active probes ([Monitor.Probe]),
// and every change is pushed to subscribers in order.
package netstatus

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/offsync/internal/ports"
)

// Transition identifies the direction of a connectivity change.
type Transition int

const (
	BecameOffline Transition = iota
	BecameOnline
)

// String returns a human-readable representation of the transition.
func (t Transition) String() string {
	if t == BecameOnline {
		return "BecameOnline"
	}
	return "BecameOffline"
}

// Event is broadcast on every connectivity change.
type Event struct {
	Transition Transition
	Online     bool
	At         time.Time
	Reason     string
}

// Monitor tracks connectivity and broadcasts transitions.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]*subscriber
	nextID int

	prober ports.Prober
	logger ports.Logger
}

// NewMonitor creates a monitor seeded with the platform's initial signal.
// prober may be nil, in which case Probe reports the current state.
func NewMonitor(initial bool, prober ports.Prober, logger ports.Logger) *Monitor {
	return &Monitor{
		online: initial,
		subs:   make(map[int]*subscriber),
		prober: prober,
		logger: logger,
	}
}

// IsOnline returns the current value.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set applies a platform signal. Only value changes are broadcast; Set
// reports whether the value changed.
func (m *Monitor) Set(online bool, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return false
	}
	m.online = online

	ev := Event{Online: online, At: time.Now(), Reason: reason}
	if online {
		ev.Transition = BecameOnline
	}
	// Pushing under the lock keeps every subscriber's order identical to
	// the order of state changes.
	for _, s := range m.subs {
		s.push(ev)
	}

	m.logger.Info("connectivity changed",
		ports.String("transition", ev.Transition.String()),
		ports.String("reason", reason),
	)
	return true
}

// Probe performs a fresh reachability check. When the result disagrees with
// the current state the state is corrected and broadcast. A check cut short
// by ctx leaves the state untouched.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsOnline()
	}

	err := m.prober.Probe(ctx)
	if ctx.Err() != nil {
		return m.IsOnline()
	}
	fresh := err == nil
	if err != nil {
		m.logger.Debug("probe failed", ports.Err(err))
	}
	m.Set(fresh, "probe")
	return fresh
}

// Subscribe returns a channel of transitions and a function that cancels the
// subscription and closes the channel. Events are never dropped or reordered
// for a subscriber; a slow reader only delays its own deliveries.
func (m *Monitor) Subscribe() (<-chan Event, func()) {
	s := newSubscriber()

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = s
	m.mu.Unlock()

	go s.run()

	cancel := func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		s.stop()
	}
	return s.out, cancel
}

// Close cancels every subscription.
func (m *Monitor) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[int]*subscriber)
	m.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

// subscriber queues events without bound and feeds them to out in order.
type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
