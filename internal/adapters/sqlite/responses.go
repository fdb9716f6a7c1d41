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

// GetResponse returns the stored response copy for a request key.
func (s *Store) GetResponse(ctx context.Context, key string) (domain.CachedResponse, error) {
	var (
		resp     domain.CachedResponse
		header   string
		storedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT key, cache_name, status_code, header, body, stored_at
		FROM response_cache WHERE key = ?
	`, key).Scan(&resp.Key, &resp.CacheName, &resp.StatusCode, &header, &resp.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CachedResponse{}, fmt.Errorf("get response %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CachedResponse{}, storageErr("get response", err)
	}

	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return domain.CachedResponse{}, fmt.Errorf("decode response header: %w", err)
	}
	resp.StoredAt = time.Unix(0, storedAt).UTC()
	return resp, nil
}

// PutResponse stores or replaces the response copy for its key.
func (s *Store) PutResponse(ctx context.Context, resp domain.CachedResponse) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("encode response header: %w", err)
	}
	if resp.StoredAt.IsZero() {
		resp.StoredAt = time.Now()
	}
	if resp.Body == nil {
		resp.Body = []byte{}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO response_cache (key, cache_name, status_code, header, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			cache_name = excluded.cache_name,
			status_code = excluded.status_code,
			header = excluded.header,
			body = excluded.body,
			stored_at = excluded.stored_at
	`, resp.Key, resp.CacheName, resp.StatusCode, string(header), resp.Body, resp.StoredAt.UTC().UnixNano())
	if err != nil {
		return storageErr("put response", err)
	}
	return nil
}

// PurgeStale deletes response copies written under another cache name.
func (s *Store) PurgeStale(ctx context.Context, current string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE cache_name != ?`, current)
	if err != nil {
		return 0, storageErr("purge stale responses", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
