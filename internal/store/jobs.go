package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ArmJob inserts or replaces the job for a thread and flips the
// thread's running flag in the same transaction, preserving the
// invariant that running=true iff exactly one armed job exists.
// Idempotent: re-arming an armed thread replaces its next fire time.
func (s *Store) ArmJob(ctx context.Context, job Job) error {
	schedJSON, err := json.Marshal(job.Schedule)
	if err != nil {
		return fmt.Errorf("store: marshal schedule: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: arm job: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO jobs (thread_id, next_fire, schedule, timezone, armed_at)
		VALUES (?, ?, ?, ?, ?)`,
		job.ThreadID,
		job.NextFire.UTC().Format(time.RFC3339Nano),
		string(schedJSON),
		job.Timezone,
		now,
	); err != nil {
		return fmt.Errorf("store: arm job: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE threads SET running = 1, updated_at = ? WHERE id = ?",
		now, job.ThreadID,
	); err != nil {
		return fmt.Errorf("store: mark running: %w", err)
	}

	return tx.Commit()
}

// DisarmJob removes a thread's job and clears its running flag.
// Idempotent: disarming a thread with no job is a no-op.
func (s *Store) DisarmJob(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: disarm job: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE thread_id = ?", threadID); err != nil {
		return fmt.Errorf("store: disarm job: %w", err)
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		"UPDATE threads SET running = 0, updated_at = ? WHERE id = ?",
		now, threadID,
	); err != nil {
		return fmt.Errorf("store: mark stopped: %w", err)
	}

	return tx.Commit()
}

// ListArmed returns every armed job, ordered by next fire time. Called
// once at startup to rebuild the scheduler heap.
func (s *Store) ListArmed(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, next_fire, schedule, timezone
		FROM jobs ORDER BY next_fire`)
	if err != nil {
		return nil, fmt.Errorf("store: list armed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		var (
			job       Job
			fireStr   string
			schedJSON string
		)
		if err := rows.Scan(&job.ThreadID, &fireStr, &schedJSON, &job.Timezone); err != nil {
			return nil, fmt.Errorf("store: list armed: %w", err)
		}
		job.NextFire, err = time.Parse(time.RFC3339Nano, fireStr)
		if err != nil {
			return nil, fmt.Errorf("store: parse next_fire: %w", err)
		}
		job.Schedule, err = decodeSchedule(schedJSON)
		if err != nil {
			return nil, fmt.Errorf("store: list armed: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
