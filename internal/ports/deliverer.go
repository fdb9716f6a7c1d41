package ports

import (
	"context"

	"github.com/bft-labs/offsync/internal/domain"
)

// Deliverer transmits a single queued item to the remote system of record.
type Deliverer interface {
	// Deliver sends the item. Errors wrap domain.ErrDeliveryFailed for
	// connectivity-class failures or domain.ErrMalformedPayload when the
	// remote rejected the item.
	Deliver(ctx context.Context, item domain.QueuedItem) (Receipt, error)
}

// Receipt describes a successful delivery.
type Receipt struct {
	// RemoteID is the server-issued identifier, if the remote returned one.
	RemoteID string

	StatusCode int

	// Duplicate is set when the remote reported it already had the item.
	Duplicate bool
}
