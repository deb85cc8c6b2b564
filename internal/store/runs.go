package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// InsertRun records the start of an execution run (or a coalesced skip,
// which is inserted already finished).
func (s *Store) InsertRun(ctx context.Context, run Run) error {
	outcomes, err := json.Marshal(run.Outcomes)
	if err != nil {
		return fmt.Errorf("store: marshal outcomes: %w", err)
	}

	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, thread_id, status, outcomes, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.ThreadID, run.Status, string(outcomes),
		run.StartedAt.UTC().Format(time.RFC3339Nano), finished,
	)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	return nil
}

// FinishRun marks a run terminal with its per-block outcomes.
func (s *Store) FinishRun(ctx context.Context, runID, status string, outcomes []BlockOutcome) error {
	outcomesJSON, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("store: marshal outcomes: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, outcomes = ?, finished_at = ?
		WHERE id = ?`,
		status, string(outcomesJSON),
		s.now().UTC().Format(time.RFC3339Nano), runID,
	)
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// LatestRun returns the most recent run for a thread, or nil if the
// thread has never run.
func (s *Store) LatestRun(ctx context.Context, threadID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, status, outcomes, started_at, finished_at
		FROM runs WHERE thread_id = ?
		ORDER BY started_at DESC LIMIT 1`, threadID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit recent runs for a thread, newest first.
func (s *Store) ListRuns(ctx context.Context, threadID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, status, outcomes, started_at, finished_at
		FROM runs WHERE thread_id = ?
		ORDER BY started_at DESC LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list runs: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// SweepStaleRuns marks runs still "running" but started before cutoff
// as failed. Protects get_status from runs orphaned by a crash.
func (s *Store) SweepStaleRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ?
		WHERE status = ? AND started_at < ?`,
		RunFailed, s.now().UTC().Format(time.RFC3339Nano),
		RunRunning, cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("store: sweep stale runs: %w", err)
	}
	return result.RowsAffected()
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run          Run
		outcomesJSON string
		startedStr   string
		finishedStr  sql.NullString
	)
	if err := sc.Scan(&run.ID, &run.ThreadID, &run.Status, &outcomesJSON, &startedStr, &finishedStr); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(outcomesJSON), &run.Outcomes); err != nil {
		return nil, fmt.Errorf("unmarshal outcomes: %w", err)
	}
	var err error
	run.StartedAt, err = time.Parse(time.RFC3339Nano, startedStr)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if finishedStr.Valid {
		finished, err := time.Parse(time.RFC3339Nano, finishedStr.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		run.FinishedAt = &finished
	}
	return &run, nil
}
