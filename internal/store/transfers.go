package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/newsieai/newsie/internal/payment"
)

// InsertTransfer appends a transfer record to the audit trail.
func (s *Store) InsertTransfer(ctx context.Context, rec payment.TransferRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfers (id, request_id, thread_id, owner_id, payer, receiver,
			amount, tx_ref, fail_reason, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.ThreadID, rec.OwnerID, rec.Payer, rec.Receiver,
		rec.Amount, rec.TxRef, rec.FailReason, rec.Status,
		created.Format(time.RFC3339Nano), created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: insert transfer: %w", err)
	}
	return nil
}

// MarkTransfer moves a transfer to a terminal status. Records already
// terminal are never rewritten: the trail is append-only.
func (s *Store) MarkTransfer(ctx context.Context, id, status, txRef, failReason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transfers SET status = ?, tx_ref = ?, fail_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		status, txRef, failReason, s.now().UTC().Format(time.RFC3339Nano),
		id, payment.TransferPending,
	)
	if err != nil {
		return fmt.Errorf("store: mark transfer: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: transfer %s not pending", id)
	}
	return nil
}

// FindTransferByRequest returns the transfer for a payment request id,
// or nil if none exists. This is the gate's double-pay guard.
func (s *Store) FindTransferByRequest(ctx context.Context, requestID string) (*payment.TransferRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, thread_id, owner_id, payer, receiver,
			amount, tx_ref, fail_reason, status, created_at, updated_at
		FROM transfers WHERE request_id = ?`, requestID)

	rec, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find transfer: %w", err)
	}
	return rec, nil
}

// SumSpentSince sums an owner's pending and confirmed transfers created
// at or after since. Pending transfers count as spent until reconciled.
func (s *Store) SumSpentSince(ctx context.Context, ownerID string, since time.Time) (float64, error) {
	var sum float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transfers
		WHERE owner_id = ? AND status IN (?, ?) AND created_at >= ?`,
		ownerID, payment.TransferPending, payment.TransferConfirmed,
		since.UTC().Format(time.RFC3339Nano),
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("store: sum spent: %w", err)
	}
	return sum, nil
}

// LatestTransfer returns the most recent transfer for a thread, or nil.
func (s *Store) LatestTransfer(ctx context.Context, threadID string) (*payment.TransferRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, thread_id, owner_id, payer, receiver,
			amount, tx_ref, fail_reason, status, created_at, updated_at
		FROM transfers WHERE thread_id = ?
		ORDER BY created_at DESC LIMIT 1`, threadID)

	rec, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest transfer: %w", err)
	}
	return rec, nil
}

// ListTransfers returns up to limit recent transfers, newest first.
func (s *Store) ListTransfers(ctx context.Context, limit int) ([]payment.TransferRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, thread_id, owner_id, payer, receiver,
			amount, tx_ref, fail_reason, status, created_at, updated_at
		FROM transfers ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list transfers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTransfers(rows)
}

// ListPendingTransfers returns transfers awaiting reconciliation.
func (s *Store) ListPendingTransfers(ctx context.Context) ([]payment.TransferRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, thread_id, owner_id, payer, receiver,
			amount, tx_ref, fail_reason, status, created_at, updated_at
		FROM transfers WHERE status = ? ORDER BY created_at`, payment.TransferPending)
	if err != nil {
		return nil, fmt.Errorf("store: list pending transfers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTransfers(rows)
}

func collectTransfers(rows *sql.Rows) ([]payment.TransferRecord, error) {
	var records []payment.TransferRecord
	for rows.Next() {
		rec, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan transfer: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanTransfer(sc scanner) (*payment.TransferRecord, error) {
	var (
		rec        payment.TransferRecord
		createdStr string
		updatedStr string
	)
	if err := sc.Scan(&rec.ID, &rec.RequestID, &rec.ThreadID, &rec.OwnerID,
		&rec.Payer, &rec.Receiver, &rec.Amount, &rec.TxRef, &rec.FailReason,
		&rec.Status, &createdStr, &updatedStr); err != nil {
		return nil, err
	}
	var err error
	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedStr)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &rec, nil
}
