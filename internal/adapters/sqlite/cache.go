package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/offsync/internal/domain"
)

// PutCached overwrites the snapshot for (collection, key).
func (s *Store) PutCached(ctx context.Context, entry domain.CachedEntry) error {
	if entry.Collection == "" || entry.Key == "" {
		return fmt.Errorf("put cached: %w: collection and key are required", domain.ErrInvalidItem)
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_collections (collection, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, entry.Collection, entry.Key, string(entry.Value), entry.UpdatedAt.UTC().UnixNano())
	if err != nil {
		return storageErr("put cached", err)
	}
	return nil
}

// GetCached returns the snapshot for (collection, key).
func (s *Store) GetCached(ctx context.Context, collection, key string) (domain.CachedEntry, error) {
	var (
		value     string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, updated_at FROM cached_collections WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CachedEntry{}, fmt.Errorf("get cached %s/%s: %w", collection, key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CachedEntry{}, storageErr("get cached", err)
	}

	return domain.CachedEntry{
		Collection: collection,
		Key:        key,
		Value:      json.RawMessage(value),
		UpdatedAt:  time.Unix(0, updatedAt).UTC(),
	}, nil
}

// ListCached returns every snapshot in a collection ordered by key.
func (s *Store) ListCached(ctx context.Context, collection string) ([]domain.CachedEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM cached_collections WHERE collection = ? ORDER BY key`,
		collection,
	)
	if err != nil {
		return nil, storageErr("list cached", err)
	}
	defer rows.Close()

	var entries []domain.CachedEntry
	for rows.Next() {
		var (
			e         domain.CachedEntry
			value     string
			updatedAt int64
		)
		if err := rows.Scan(&e.Key, &value, &updatedAt); err != nil {
			return nil, storageErr("scan cached", err)
		}
		e.Collection = collection
		e.Value = json.RawMessage(value)
		e.UpdatedAt = time.Unix(0, updatedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate cached", err)
	}
	return entries, nil
}

// DeleteCached evicts one snapshot.
func (s *Store) DeleteCached(ctx context.Context, collection, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cached_collections WHERE collection = ? AND key = ?`, collection, key)
	if err != nil {
		return storageErr("delete cached", err)
	}
	return nil
}

// PutPreference stores a preference value, replacing any previous one.
func (s *Store) PutPreference(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return fmt.Errorf("put preference: %w: empty key", domain.ErrInvalidItem)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(value), time.Now().UTC().UnixNano())
	if err != nil {
		return storageErr("put preference", err)
	}
	return nil
}

// GetPreference returns a stored preference value.
func (s *Store) GetPreference(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get preference %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get preference", err)
	}
	return json.RawMessage(value), nil
}
