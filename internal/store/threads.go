package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/newsieai/newsie/internal/schedule"
	"github.com/newsieai/newsie/internal/thread"
)

// SaveThread inserts or replaces a thread. The running flag is
// preserved from the existing row on replace: it is owned by the job
// store, not by thread edits.
func (s *Store) SaveThread(ctx context.Context, t *thread.Thread) error {
	schedJSON, err := json.Marshal(t.Schedule)
	if err != nil {
		return fmt.Errorf("store: marshal schedule: %w", err)
	}
	blocksJSON, err := json.Marshal(t.Blocks)
	if err != nil {
		return fmt.Errorf("store: marshal blocks: %w", err)
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, owner_id, name, timezone, schedule, blocks, running, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id   = excluded.owner_id,
			name       = excluded.name,
			timezone   = excluded.timezone,
			schedule   = excluded.schedule,
			blocks     = excluded.blocks,
			updated_at = excluded.updated_at`,
		t.ID, t.OwnerID, t.Name, t.Timezone,
		string(schedJSON), string(blocksJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("store: save thread: %w", err)
	}
	return nil
}

// GetThread loads a thread by id. Returns ErrThreadNotFound if absent.
func (s *Store) GetThread(ctx context.Context, id string) (*thread.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, timezone, schedule, blocks, running
		FROM threads WHERE id = ?`, id)

	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get thread: %w", err)
	}
	return t, nil
}

// ListThreads returns all threads ordered by name.
func (s *Store) ListThreads(ctx context.Context) ([]*thread.Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, timezone, schedule, blocks, running
		FROM threads ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var threads []*thread.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list threads: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// DeleteThread removes a thread and its job. Runs, transfers, and items
// are audit history and are kept.
func (s *Store) DeleteThread(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete thread: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE thread_id = ?", id); err != nil {
		return fmt.Errorf("store: delete job: %w", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM threads WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: delete thread: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrThreadNotFound
	}
	return tx.Commit()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanThread(sc scanner) (*thread.Thread, error) {
	var (
		t          thread.Thread
		schedJSON  string
		blocksJSON string
		running    int
	)
	if err := sc.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Timezone, &schedJSON, &blocksJSON, &running); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(schedJSON), &t.Schedule); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}
	if err := json.Unmarshal([]byte(blocksJSON), &t.Blocks); err != nil {
		return nil, fmt.Errorf("unmarshal blocks: %w", err)
	}
	t.Running = running != 0
	return &t, nil
}

// decodeSchedule parses a stored schedule JSON document.
func decodeSchedule(raw string) (schedule.Schedule, error) {
	var sched schedule.Schedule
	if err := json.Unmarshal([]byte(raw), &sched); err != nil {
		return schedule.Schedule{}, fmt.Errorf("unmarshal schedule: %w", err)
	}
	return sched, nil
}
