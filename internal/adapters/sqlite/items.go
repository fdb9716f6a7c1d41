package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bft-labs/offsync/internal/domain"
)

const itemColumns = `seq, id, stream_id, kind, payload, created_at, delivered,
	delivered_at, remote_id, rejections, quarantined, last_error`

// PutItem inserts the item. Re-putting an existing id leaves the stored
// record untouched and returns it.
func (s *Store) PutItem(ctx context.Context, item domain.QueuedItem) (domain.QueuedItem, error) {
	if err := item.Validate(); err != nil {
		return domain.QueuedItem{}, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queued_items (id, stream_id, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		item.ID,
		item.StreamID,
		item.Kind,
		string(item.Payload),
		item.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return domain.QueuedItem{}, storageErr("put item", err)
	}

	return s.GetItem(ctx, item.ID)
}

// GetItem returns the item with the given id.
func (s *Store) GetItem(ctx context.Context, id string) (domain.QueuedItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queued_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QueuedItem{}, fmt.Errorf("get item %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.QueuedItem{}, storageErr("get item", err)
	}
	return item, nil
}

// ListItems returns all items in creation order.
func (s *Store) ListItems(ctx context.Context) ([]domain.QueuedItem, error) {
	return s.ListItemsWhere(ctx)
}

// ListItemsWhere returns items matching every predicate, ordered by
// created_at then seq.
func (s *Store) ListItemsWhere(ctx context.Context, preds ...domain.Predicate) ([]domain.QueuedItem, error) {
	where, args, err := compileWhere(preds)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM queued_items`+where+` ORDER BY created_at ASC, seq ASC`,
		args...,
	)
	if err != nil {
		return nil, storageErr("list items", err)
	}
	defer rows.Close()

	var items []domain.QueuedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storageErr("scan item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate items", err)
	}
	return items, nil
}

// DeleteItem removes a delivered item. Undelivered items are retained.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	return s.deleteWhere(ctx, "delete item", id, "delivered = 1")
}

// Discard removes a quarantined, undelivered item.
func (s *Store) Discard(ctx context.Context, id string) error {
	return s.deleteWhere(ctx, "discard item", id, "delivered = 0 AND quarantined = 1")
}

func (s *Store) deleteWhere(ctx context.Context, op, id, cond string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM queued_items WHERE id = ? AND `+cond, id)
	if err != nil {
		return storageErr(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_items WHERE id = ?`, id).Scan(&exists)
		if err != nil {
			return storageErr(op, err)
		}
		if exists == 0 {
			return fmt.Errorf("%s %s: %w", op, id, domain.ErrNotFound)
		}
		return fmt.Errorf("%s %s: %w", op, id, domain.ErrRetained)
	}

	if err := tx.Commit(); err != nil {
		return storageErr(op, err)
	}
	return nil
}

// MarkDelivered flips the delivered flag. Marking an already delivered item
// is a no-op.
func (s *Store) MarkDelivered(ctx context.Context, id, remoteID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queued_items
		SET delivered = 1, delivered_at = ?, remote_id = ?, rejections = 0, last_error = ''
		WHERE id = ? AND delivered = 0
	`, at.UTC().UnixNano(), remoteID, id)
	if err != nil {
		return storageErr("mark delivered", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetItem(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RecordRejection increments the rejection counter and quarantines the item
// when the counter reaches threshold. A threshold below 1 never quarantines.
func (s *Store) RecordRejection(ctx context.Context, id, reason string, threshold int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr("record rejection", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE queued_items
		SET rejections = rejections + 1,
		    last_error = ?,
		    quarantined = CASE WHEN ? > 0 AND rejections + 1 >= ? THEN 1 ELSE quarantined END
		WHERE id = ? AND delivered = 0
	`, reason, threshold, threshold, id)
	if err != nil {
		return false, storageErr("record rejection", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, fmt.Errorf("record rejection %s: %w", id, domain.ErrNotFound)
	}

	var quarantined bool
	if err := tx.QueryRowContext(ctx,
		`SELECT quarantined FROM queued_items WHERE id = ?`, id,
	).Scan(&quarantined); err != nil {
		return false, storageErr("record rejection", err)
	}

	if err := tx.Commit(); err != nil {
		return false, storageErr("record rejection", err)
	}
	return quarantined, nil
}

// ResetRejections clears the consecutive rejection counter.
func (s *Store) ResetRejections(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queued_items SET rejections = 0 WHERE id = ? AND rejections > 0 AND quarantined = 0`, id)
	if err != nil {
		return storageErr("reset rejections", err)
	}
	return nil
}

// PruneDelivered deletes delivered items acknowledged before olderThan.
func (s *Store) PruneDelivered(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queued_items WHERE delivered = 1 AND delivered_at < ?`,
		olderThan.UTC().UnixNano(),
	)
	if err != nil {
		return 0, storageErr("prune delivered", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats counts items by state and cached entries.
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	var st domain.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN delivered = 0 AND quarantined = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN delivered = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN delivered = 0 AND quarantined = 1 THEN 1 ELSE 0 END), 0),
			(SELECT COUNT(*) FROM cached_collections)
		FROM queued_items
	`).Scan(&st.Pending, &st.Delivered, &st.Quarantined, &st.Cached)
	if err != nil {
		return domain.Stats{}, storageErr("stats", err)
	}
	return st, nil
}

// compileWhere turns index predicates into a WHERE clause.
func compileWhere(preds []domain.Predicate) (string, []any, error) {
	if len(preds) == 0 {
		return "", nil, nil
	}

	clauses := make([]string, 0, len(preds))
	args := make([]any, 0, len(preds))
	for _, p := range preds {
		switch p.Field {
		case domain.FieldDelivered, domain.FieldQuarantined:
			v, ok := p.Value.(bool)
			if !ok {
				return "", nil, fmt.Errorf("predicate %s: want bool, got %T", p.Field, p.Value)
			}
			clauses = append(clauses, p.Field+" = ?")
			args = append(args, v)
		case domain.FieldStreamID, domain.FieldKind:
			v, ok := p.Value.(string)
			if !ok {
				return "", nil, fmt.Errorf("predicate %s: want string, got %T", p.Field, p.Value)
			}
			clauses = append(clauses, p.Field+" = ?")
			args = append(args, v)
		default:
			return "", nil, fmt.Errorf("predicate on unindexed field %q", p.Field)
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (domain.QueuedItem, error) {
	var (
		item        domain.QueuedItem
		payload     string
		createdAt   int64
		deliveredAt int64
	)
	err := r.Scan(
		&item.Seq,
		&item.ID,
		&item.StreamID,
		&item.Kind,
		&payload,
		&createdAt,
		&item.Delivered,
		&deliveredAt,
		&item.RemoteID,
		&item.Rejections,
		&item.Quarantined,
		&item.LastError,
	)
	if err != nil {
		return domain.QueuedItem{}, err
	}

	item.Payload = []byte(payload)
	item.CreatedAt = time.Unix(0, createdAt).UTC()
	if deliveredAt > 0 {
		item.DeliveredAt = time.Unix(0, deliveredAt).UTC()
	}
	return item, nil
}
