package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/newsieai/newsie/internal/payment"
)

// RetentionStore is the slice of the store the retention job needs.
// Defined here to avoid a dependency on the store package.
type RetentionStore interface {
	PruneItemsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob deletes retrieved items older than MaxAge.
type RetentionJob struct {
	Store        RetentionStore
	MaxAge       time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 3 * * *"
}

// Compile-time interface check.
var _ Job = (*RetentionJob)(nil)

// Name implements Job.
func (j *RetentionJob) Name() string { return "item_retention" }

// Schedule implements Job.
func (j *RetentionJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 3 * * *"
}

// Run prunes items retrieved more than MaxAge ago.
func (j *RetentionJob) Run(ctx context.Context) error {
	pruned, err := j.Store.PruneItemsBefore(ctx, time.Now().Add(-j.MaxAge))
	if err != nil {
		return fmt.Errorf("cron: item retention: %w", err)
	}
	if pruned > 0 {
		j.Logger.Info("cron: pruned old items", "count", pruned)
	}
	return nil
}

// SweepStore is the slice of the store the sweep job needs.
type SweepStore interface {
	SweepStaleRuns(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepJob fails runs that still report "running" long after they
// started, which only happens when a crash orphaned them.
type SweepJob struct {
	Store        SweepStore
	MaxRunTime   time.Duration // empty = default 1h
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/10 * * * *"
}

// Compile-time interface check.
var _ Job = (*SweepJob)(nil)

// Name implements Job.
func (j *SweepJob) Name() string { return "stale_run_sweep" }

// Schedule implements Job.
func (j *SweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/10 * * * *"
}

// Run marks runs older than MaxRunTime as failed.
func (j *SweepJob) Run(ctx context.Context) error {
	maxAge := j.MaxRunTime
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	swept, err := j.Store.SweepStaleRuns(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return fmt.Errorf("cron: stale run sweep: %w", err)
	}
	if swept > 0 {
		j.Logger.Warn("cron: failed orphaned runs", "count", swept)
	}
	return nil
}

// TransferStore is the slice of the store the reconcile job needs.
type TransferStore interface {
	ListPendingTransfers(ctx context.Context) ([]payment.TransferRecord, error)
	MarkTransfer(ctx context.Context, id, status, txRef, failReason string) error
}

// StatusClient answers whether a previously issued transfer actually
// landed on the ledger. Implemented by payment.LedgerClient.
type StatusClient interface {
	Status(ctx context.Context, requestID string) (status, txRef string, err error)
}

// ReconcileJob resolves transfers left pending by an ambiguous executor
// outcome: it asks the ledger what happened and settles the record
// either way, freeing the budget the pending record holds.
type ReconcileJob struct {
	Store        TransferStore
	Ledger       StatusClient
	MinAge       time.Duration // empty = default 5m; younger records may still be in flight
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Compile-time interface check.
var _ Job = (*ReconcileJob)(nil)

// Name implements Job.
func (j *ReconcileJob) Name() string { return "transfer_reconcile" }

// Schedule implements Job.
func (j *ReconcileJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run reconciles every pending transfer older than MinAge.
func (j *ReconcileJob) Run(ctx context.Context) error {
	minAge := j.MinAge
	if minAge <= 0 {
		minAge = 5 * time.Minute
	}

	pending, err := j.Store.ListPendingTransfers(ctx)
	if err != nil {
		return fmt.Errorf("cron: listing pending transfers: %w", err)
	}

	cutoff := time.Now().Add(-minAge)
	for _, rec := range pending {
		if rec.CreatedAt.After(cutoff) {
			continue
		}
		if err := j.reconcile(ctx, rec); err != nil {
			j.Logger.Error("cron: reconciling transfer",
				"transfer", rec.ID, "request", rec.RequestID, "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (j *ReconcileJob) reconcile(ctx context.Context, rec payment.TransferRecord) error {
	status, txRef, err := j.Ledger.Status(ctx, rec.RequestID)
	if err != nil {
		return err
	}

	switch status {
	case "confirmed":
		if err := j.Store.MarkTransfer(ctx, rec.ID, payment.TransferConfirmed, txRef, ""); err != nil {
			return err
		}
		j.Logger.Info("cron: reconciled transfer as confirmed",
			"transfer", rec.ID, "tx", txRef)
	case "failed":
		if err := j.Store.MarkTransfer(ctx, rec.ID, payment.TransferFailed, "", "ledger reported failure"); err != nil {
			return err
		}
		j.Logger.Info("cron: reconciled transfer as failed", "transfer", rec.ID)
	case "unknown":
		// The ledger never saw the idempotency key: the transfer was
		// never issued and will not land later.
		if err := j.Store.MarkTransfer(ctx, rec.ID, payment.TransferFailed, "", "never reached ledger"); err != nil {
			return err
		}
		j.Logger.Info("cron: reconciled transfer as never issued", "transfer", rec.ID)
	default:
		// Still settling on the ledger side; try again next tick.
		j.Logger.Debug("cron: transfer still settling", "transfer", rec.ID, "status", status)
	}
	return nil
}
