package ports

import "context"

// Prober performs a lightweight round-trip to check reachability.
type Prober interface {
	// Probe returns nil when the remote answered.
	Probe(ctx context.Context) error
}
