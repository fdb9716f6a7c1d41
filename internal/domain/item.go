package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Well-known item kinds. Any non-empty kind is accepted as long as an
// endpoint is configured for it.
const (
	KindMessage        = "message"
	KindAnalyticsEvent = "analytics-event"
)

// QueuedItem is a write awaiting acknowledgement from the remote.
type QueuedItem struct {
	// ID is generated on the client and stays stable across retries.
	ID string `json:"id"`

	// StreamID scopes ordering; items are FIFO only within one stream.
	StreamID string `json:"stream_id"`

	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`

	// Seq is assigned by the store on first insert and breaks CreatedAt ties.
	Seq int64 `json:"seq"`

	Delivered   bool      `json:"delivered"`
	DeliveredAt time.Time `json:"delivered_at,omitzero"`
	RemoteID    string    `json:"remote_id,omitempty"`

	// Rejections counts consecutive client-error responses.
	Rejections  int    `json:"rejections"`
	Quarantined bool   `json:"quarantined"`
	LastError   string `json:"last_error,omitempty"`
}

// NewQueuedItem builds an undelivered item and validates it.
func NewQueuedItem(id, kind, streamID string, payload json.RawMessage, createdAt time.Time) (QueuedItem, error) {
	item := QueuedItem{
		ID:        id,
		StreamID:  streamID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: createdAt.UTC(),
	}
	if err := item.Validate(); err != nil {
		return QueuedItem{}, err
	}
	return item, nil
}

// Validate checks the fields every queued item must carry.
func (i QueuedItem) Validate() error {
	switch {
	case i.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidItem)
	case i.Kind == "":
		return fmt.Errorf("%w: missing kind", ErrInvalidItem)
	case i.StreamID == "":
		return fmt.Errorf("%w: missing stream id", ErrInvalidItem)
	case len(i.Payload) == 0:
		return fmt.Errorf("%w: empty payload", ErrInvalidItem)
	case !json.Valid(i.Payload):
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidItem)
	}
	return nil
}

// Pending reports whether the item is eligible for a reconciliation pass.
func (i QueuedItem) Pending() bool {
	return !i.Delivered && !i.Quarantined
}

// Stats summarizes the queue.
type Stats struct {
	Pending     int `json:"pending"`
	Delivered   int `json:"delivered"`
	Quarantined int `json:"quarantined"`
	Cached      int `json:"cached"`
}
