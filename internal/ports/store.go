package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bft-labs/offsync/internal/domain"
)

// ItemStore persists queued items.
//
// Undelivered items are never deleted by the store on its own; only
// DeleteItem on a delivered item, PruneDelivered and Discard on a
// quarantined item remove records.
type ItemStore interface {
	// PutItem inserts the item. A second put with the same id is a no-op
	// and returns the record already stored.
	PutItem(ctx context.Context, item domain.QueuedItem) (domain.QueuedItem, error)

	// GetItem returns domain.ErrNotFound when the id is unknown.
	GetItem(ctx context.Context, id string) (domain.QueuedItem, error)

	// ListItems returns every item ordered by creation time and sequence.
	ListItems(ctx context.Context) ([]domain.QueuedItem, error)

	// ListItemsWhere returns items matching all predicates, in the same order.
	ListItemsWhere(ctx context.Context, preds ...domain.Predicate) ([]domain.QueuedItem, error)

	// DeleteItem removes a delivered item.
	DeleteItem(ctx context.Context, id string) error

	// MarkDelivered flips the delivered flag and records the remote id.
	MarkDelivered(ctx context.Context, id, remoteID string, at time.Time) error

	// RecordRejection increments the rejection counter and quarantines the
	// item once threshold is reached. It reports whether the item is now
	// quarantined.
	RecordRejection(ctx context.Context, id, reason string, threshold int) (bool, error)

	// ResetRejections clears the rejection counter after a non-rejection outcome.
	ResetRejections(ctx context.Context, id string) error

	// PruneDelivered deletes delivered items acknowledged before olderThan.
	PruneDelivered(ctx context.Context, olderThan time.Time) (int64, error)

	// Discard removes a quarantined item.
	Discard(ctx context.Context, id string) error

	Stats(ctx context.Context) (domain.Stats, error)
}

// CacheStore persists snapshots of remote-origin collections.
type CacheStore interface {
	// PutCached overwrites the whole entry.
	PutCached(ctx context.Context, entry domain.CachedEntry) error
	GetCached(ctx context.Context, collection, key string) (domain.CachedEntry, error)
	ListCached(ctx context.Context, collection string) ([]domain.CachedEntry, error)
	// DeleteCached evicts one entry.
	DeleteCached(ctx context.Context, collection, key string) error
}

// PreferenceStore persists small key/value settings.
type PreferenceStore interface {
	PutPreference(ctx context.Context, key string, value json.RawMessage) error
	GetPreference(ctx context.Context, key string) (json.RawMessage, error)
}

// ResponseCache persists response copies for the interception layer.
type ResponseCache interface {
	GetResponse(ctx context.Context, key string) (domain.CachedResponse, error)
	PutResponse(ctx context.Context, resp domain.CachedResponse) error
	// PurgeStale deletes entries whose cache name differs from current.
	PurgeStale(ctx context.Context, current string) (int64, error)
}

// Store is the complete persistent local store.
type Store interface {
	ItemStore
	CacheStore
	PreferenceStore
	ResponseCache
	Close() error
}
