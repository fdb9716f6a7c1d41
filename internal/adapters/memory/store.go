// Package memory implements the local store in process memory.
//
// It backs the engine when the durable store cannot be opened or written,
// and keeps the same semantics so callers cannot tell the difference beyond
// durability.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bft-labs/offsync/internal/domain"
	"github.com/bft-labs/offsync/internal/ports"
)

// Store is a concurrency-safe in-memory store.
type Store struct {
	mu        sync.RWMutex
	seq       int64
	items     map[string]domain.QueuedItem
	cached    map[cacheKey]domain.CachedEntry
	prefs     map[string]json.RawMessage
	responses map[string]domain.CachedResponse
}

type cacheKey struct{ collection, key string }

var _ ports.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		items:     make(map[string]domain.QueuedItem),
		cached:    make(map[cacheKey]domain.CachedEntry),
		prefs:     make(map[string]json.RawMessage),
		responses: make(map[string]domain.CachedResponse),
	}
}

func (s *Store) PutItem(_ context.Context, item domain.QueuedItem) (domain.QueuedItem, error) {
	if err := item.Validate(); err != nil {
		return domain.QueuedItem{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[item.ID]; ok {
		return existing, nil
	}

	s.seq++
	stored := domain.QueuedItem{
		ID:        item.ID,
		StreamID:  item.StreamID,
		Kind:      item.Kind,
		Payload:   append(json.RawMessage(nil), item.Payload...),
		CreatedAt: item.CreatedAt.UTC(),
		Seq:       s.seq,
	}
	s.items[item.ID] = stored
	return stored, nil
}

func (s *Store) GetItem(_ context.Context, id string) (domain.QueuedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return domain.QueuedItem{}, fmt.Errorf("get item %s: %w", id, domain.ErrNotFound)
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.QueuedItem, error) {
	return s.ListItemsWhere(ctx)
}

func (s *Store) ListItemsWhere(_ context.Context, preds ...domain.Predicate) ([]domain.QueuedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.QueuedItem
	for _, item := range s.items {
		if domain.MatchAll(item, preds) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *Store) DeleteItem(_ context.Context, id string) error {
	return s.deleteIf(id, "delete item", func(i domain.QueuedItem) bool { return i.Delivered })
}

func (s *Store) Discard(_ context.Context, id string) error {
	return s.deleteIf(id, "discard item", func(i domain.QueuedItem) bool { return !i.Delivered && i.Quarantined })
}

func (s *Store) deleteIf(id, op string, ok func(domain.QueuedItem) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, found := s.items[id]
	if !found {
		return fmt.Errorf("%s %s: %w", op, id, domain.ErrNotFound)
	}
	if !ok(item) {
		return fmt.Errorf("%s %s: %w", op, id, domain.ErrRetained)
	}
	delete(s.items, id)
	return nil
}

func (s *Store) MarkDelivered(_ context.Context, id, remoteID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("mark delivered %s: %w", id, domain.ErrNotFound)
	}
	if item.Delivered {
		return nil
	}
	item.Delivered = true
	item.DeliveredAt = at.UTC()
	item.RemoteID = remoteID
	item.Rejections = 0
	item.LastError = ""
	s.items[id] = item
	return nil
}

func (s *Store) RecordRejection(_ context.Context, id, reason string, threshold int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.Delivered {
		return false, fmt.Errorf("record rejection %s: %w", id, domain.ErrNotFound)
	}
	item.Rejections++
	item.LastError = reason
	if threshold > 0 && item.Rejections >= threshold {
		item.Quarantined = true
	}
	s.items[id] = item
	return item.Quarantined, nil
}

func (s *Store) ResetRejections(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[id]; ok && !item.Quarantined {
		item.Rejections = 0
		s.items[id] = item
	}
	return nil
}

func (s *Store) PruneDelivered(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, item := range s.items {
		if item.Delivered && item.DeliveredAt.Before(olderThan) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) Stats(_ context.Context) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := domain.Stats{Cached: len(s.cached)}
	for _, item := range s.items {
		switch {
		case item.Delivered:
			st.Delivered++
		case item.Quarantined:
			st.Quarantined++
		default:
			st.Pending++
		}
	}
	return st, nil
}

func (s *Store) PutCached(_ context.Context, entry domain.CachedEntry) error {
	if entry.Collection == "" || entry.Key == "" {
		return fmt.Errorf("put cached: %w: collection and key are required", domain.ErrInvalidItem)
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	entry.Value = append(json.RawMessage(nil), entry.Value...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached[cacheKey{entry.Collection, entry.Key}] = entry
	return nil
}

func (s *Store) GetCached(_ context.Context, collection, key string) (domain.CachedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cached[cacheKey{collection, key}]
	if !ok {
		return domain.CachedEntry{}, fmt.Errorf("get cached %s/%s: %w", collection, key, domain.ErrNotFound)
	}
	return e, nil
}

func (s *Store) ListCached(_ context.Context, collection string) ([]domain.CachedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CachedEntry
	for k, e := range s.cached {
		if k.collection == collection {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) DeleteCached(_ context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cached, cacheKey{collection, key})
	return nil
}

func (s *Store) PutPreference(_ context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return fmt.Errorf("put preference: %w: empty key", domain.ErrInvalidItem)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[key] = append(json.RawMessage(nil), value...)
	return nil
}

func (s *Store) GetPreference(_ context.Context, key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.prefs[key]
	if !ok {
		return nil, fmt.Errorf("get preference %s: %w", key, domain.ErrNotFound)
	}
	return v, nil
}

func (s *Store) GetResponse(_ context.Context, key string) (domain.CachedResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.responses[key]
	if !ok {
		return domain.CachedResponse{}, fmt.Errorf("get response %s: %w", key, domain.ErrNotFound)
	}
	return r, nil
}

func (s *Store) PutResponse(_ context.Context, resp domain.CachedResponse) error {
	if resp.StoredAt.IsZero() {
		resp.StoredAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[resp.Key] = resp
	return nil
}

func (s *Store) PurgeStale(_ context.Context, current string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, r := range s.responses {
		if r.CacheName != current {
			delete(s.responses, k)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
