package store

import (
	"context"
	"fmt"
	"time"

	"github.com/newsieai/newsie/internal/retrieval"
)

// InsertItems persists the normalized items of one successful block
// retrieval. Duplicates across runs are allowed; dedup is the source's
// concern, not the sink's.
func (s *Store) InsertItems(ctx context.Context, threadID, runID string, blockIndex int, items []retrieval.Item, retrievedAt time.Time) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: insert items: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (thread_id, run_id, block_index, source_kind, author, text, quoted_ref, url, retrieved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: insert items: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	at := retrievedAt.UTC().Format(time.RFC3339Nano)
	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, threadID, runID, blockIndex,
			item.SourceKind, item.Author, item.Text, item.QuotedRef, item.URL, at); err != nil {
			return fmt.Errorf("store: insert item: %w", err)
		}
	}

	return tx.Commit()
}

// ListItems returns up to limit recent items for a thread, newest first.
func (s *Store) ListItems(ctx context.Context, threadID string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, run_id, block_index, source_kind, author, text, quoted_ref, url, retrieved_at
		FROM items WHERE thread_id = ?
		ORDER BY retrieved_at DESC, id DESC LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []Item
	for rows.Next() {
		var (
			item  Item
			atStr string
		)
		if err := rows.Scan(&item.ID, &item.ThreadID, &item.RunID, &item.BlockIndex,
			&item.SourceKind, &item.Author, &item.Text, &item.QuotedRef, &item.URL, &atStr); err != nil {
			return nil, fmt.Errorf("store: scan item: %w", err)
		}
		item.RetrievedAt, err = time.Parse(time.RFC3339Nano, atStr)
		if err != nil {
			return nil, fmt.Errorf("store: parse retrieved_at: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// PruneItemsBefore deletes items retrieved before cutoff. Used by the
// retention maintenance job.
func (s *Store) PruneItemsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM items WHERE retrieved_at < ?",
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("store: prune items: %w", err)
	}
	return result.RowsAffected()
}
