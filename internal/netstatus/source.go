package netstatus

import (
	"context"
	"time"
)

// SignalSource feeds platform connectivity signals into a Monitor.
type SignalSource interface {
	// Run blocks until ctx is canceled.
	Run(ctx context.Context, m *Monitor) error
}

// DefaultProbeInterval is how often ProbeSource checks reachability.
const DefaultProbeInterval = 30 * time.Second

// ProbeSource derives the platform signal from periodic probes. It suits
// headless hosts that have no OS connectivity notifications.
type ProbeSource struct {
	Interval time.Duration
}

// Run probes once immediately, then on every interval.
func (p ProbeSource) Run(ctx context.Context, m *Monitor) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultProbeInterval
	}

	m.Probe(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// SignalFunc adapts a function to SignalSource.
type SignalFunc func(ctx context.Context, m *Monitor) error

// Run calls f.
func (f SignalFunc) Run(ctx context.Context, m *Monitor) error {
	return f(ctx, m)
}
