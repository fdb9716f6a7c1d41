package offsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/bft-labs/offsync/internal/adapters/memory"
	"github.com/bft-labs/offsync/internal/domain"
	"github.com/bft-labs/offsync/internal/ports"
)

// degradingStore serves from the durable store until it reports
// domain.ErrStorageUnavailable, then switches to an in-memory store for the
// rest of the process lifetime. The failing call is retried on memory.
type degradingStore struct {
	primary  ports.Store
	fallback *memory.Store
	onFail   func(err error)

	mu       sync.RWMutex
	degraded bool
}

var _ ports.Store = (*degradingStore)(nil)

func newDegradingStore(primary ports.Store, onFail func(error)) *degradingStore {
	s := &degradingStore{
		primary:  primary,
		fallback: memory.New(),
		onFail:   onFail,
	}
	if primary == nil {
		s.degraded = true
	}
	return s
}

// Degraded reports whether the store fell back to memory.
func (s *degradingStore) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

func (s *degradingStore) active() ports.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.degraded {
		return s.fallback
	}
	return s.primary
}

// failover reports whether err means the primary is gone, switching to
// memory the first time it does. Cancellation and transient errors never
// switch stores.
func (s *degradingStore) failover(err error) bool {
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		return false
	}
	// A caller giving up is not the store going away.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	s.mu.Lock()
	first := !s.degraded
	s.degraded = true
	s.mu.Unlock()
	if first && s.onFail != nil {
		s.onFail(err)
	}
	return true
}

func call[T any](s *degradingStore, fn func(ports.Store) (T, error)) (T, error) {
	st := s.active()
	out, err := fn(st)
	if st != ports.Store(s.fallback) && s.failover(err) {
		return fn(s.fallback)
	}
	return out, err
}

func exec(s *degradingStore, fn func(ports.Store) error) error {
	_, err := call(s, func(st ports.Store) (struct{}, error) {
		return struct{}{}, fn(st)
	})
	return err
}

func (s *degradingStore) PutItem(ctx context.Context, item domain.QueuedItem) (domain.QueuedItem, error) {
	return call(s, func(st ports.Store) (domain.QueuedItem, error) { return st.PutItem(ctx, item) })
}

func (s *degradingStore) GetItem(ctx context.Context, id string) (domain.QueuedItem, error) {
	return call(s, func(st ports.Store) (domain.QueuedItem, error) { return st.GetItem(ctx, id) })
}

func (s *degradingStore) ListItems(ctx context.Context) ([]domain.QueuedItem, error) {
	return call(s, func(st ports.Store) ([]domain.QueuedItem, error) { return st.ListItems(ctx) })
}

func (s *degradingStore) ListItemsWhere(ctx context.Context, preds ...domain.Predicate) ([]domain.QueuedItem, error) {
	return call(s, func(st ports.Store) ([]domain.QueuedItem, error) { return st.ListItemsWhere(ctx, preds...) })
}

func (s *degradingStore) DeleteItem(ctx context.Context, id string) error {
	return exec(s, func(st ports.Store) error { return st.DeleteItem(ctx, id) })
}

func (s *degradingStore) MarkDelivered(ctx context.Context, id, remoteID string, at time.Time) error {
	return exec(s, func(st ports.Store) error { return st.MarkDelivered(ctx, id, remoteID, at) })
}

func (s *degradingStore) RecordRejection(ctx context.Context, id, reason string, threshold int) (bool, error) {
	return call(s, func(st ports.Store) (bool, error) { return st.RecordRejection(ctx, id, reason, threshold) })
}

func (s *degradingStore) ResetRejections(ctx context.Context, id string) error {
	return exec(s, func(st ports.Store) error { return st.ResetRejections(ctx, id) })
}

func (s *degradingStore) PruneDelivered(ctx context.Context, olderThan time.Time) (int64, error) {
	return call(s, func(st ports.Store) (int64, error) { return st.PruneDelivered(ctx, olderThan) })
}

func (s *degradingStore) Discard(ctx context.Context, id string) error {
	return exec(s, func(st ports.Store) error { return st.Discard(ctx, id) })
}

func (s *degradingStore) Stats(ctx context.Context) (domain.Stats, error) {
	return call(s, func(st ports.Store) (domain.Stats, error) { return st.Stats(ctx) })
}

func (s *degradingStore) PutCached(ctx context.Context, entry domain.CachedEntry) error {
	return exec(s, func(st ports.Store) error { return st.PutCached(ctx, entry) })
}

func (s *degradingStore) GetCached(ctx context.Context, collection, key string) (domain.CachedEntry, error) {
	return call(s, func(st ports.Store) (domain.CachedEntry, error) { return st.GetCached(ctx, collection, key) })
}

func (s *degradingStore) ListCached(ctx context.Context, collection string) ([]domain.CachedEntry, error) {
	return call(s, func(st ports.Store) ([]domain.CachedEntry, error) { return st.ListCached(ctx, collection) })
}

func (s *degradingStore) DeleteCached(ctx context.Context, collection, key string) error {
	return exec(s, func(st ports.Store) error { return st.DeleteCached(ctx, collection, key) })
}

func (s *degradingStore) PutPreference(ctx context.Context, key string, value json.RawMessage) error {
	return exec(s, func(st ports.Store) error { return st.PutPreference(ctx, key, value) })
}

func (s *degradingStore) GetPreference(ctx context.Context, key string) (json.RawMessage, error) {
	return call(s, func(st ports.Store) (json.RawMessage, error) { return st.GetPreference(ctx, key) })
}

func (s *degradingStore) GetResponse(ctx context.Context, key string) (domain.CachedResponse, error) {
	return call(s, func(st ports.Store) (domain.CachedResponse, error) { return st.GetResponse(ctx, key) })
}

func (s *degradingStore) PutResponse(ctx context.Context, resp domain.CachedResponse) error {
	return exec(s, func(st ports.Store) error { return st.PutResponse(ctx, resp) })
}

func (s *degradingStore) PurgeStale(ctx context.Context, current string) (int64, error) {
	return call(s, func(st ports.Store) (int64, error) { return st.PurgeStale(ctx, current) })
}

// Close closes the durable store, if any.
func (s *degradingStore) Close() error {
	if s.primary == nil {
		return nil
	}
	return s.primary.Close()
}
