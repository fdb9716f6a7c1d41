package domain

import (
	"encoding/json"
	"time"
)

// Named collections held by the local store.
const (
	CollectionQueuedItems = "queued_items"
	CollectionCached      = "cached_collections"
	CollectionPreferences = "preferences"
)

// CachedEntry is a snapshot of remote-origin data. It is overwritten
// wholesale on every successful fetch and never partially merged.
type CachedEntry struct {
	Collection string          `json:"collection"`
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CachedResponse is a stored copy of a successful GET response, keyed by
// request identity and tagged with the cache version that produced it.
type CachedResponse struct {
	Key        string
	CacheName  string
	StatusCode int
	Header     map[string][]string
	Body       []byte
	StoredAt   time.Time
}
