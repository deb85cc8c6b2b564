package cron

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/newsieai/newsie/internal/payment"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRetentionStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
	pruned  int64
	err     error
}

func (s *fakeRetentionStore) PruneItemsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	return s.pruned, s.err
}

func TestRetentionJob_Defaults(t *testing.T) {
	t.Parallel()
	j := &RetentionJob{Logger: discardLogger()}
	if j.Name() != "item_retention" {
		t.Errorf("name = %q", j.Name())
	}
	if j.Schedule() != "0 3 * * *" {
		t.Errorf("schedule = %q", j.Schedule())
	}
}

func TestRetentionJob_Run(t *testing.T) {
	t.Parallel()

	store := &fakeRetentionStore{pruned: 7}
	j := &RetentionJob{Store: store, MaxAge: 72 * time.Hour, Logger: discardLogger()}

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.cutoffs) != 1 {
		t.Fatalf("prune calls = %d, want 1", len(store.cutoffs))
	}
	want := time.Now().Add(-72 * time.Hour)
	if got := store.cutoffs[0]; got.Before(want.Add(-time.Minute)) || got.After(want.Add(time.Minute)) {
		t.Errorf("cutoff = %v, want about %v", got, want)
	}
}

func TestRetentionJob_RunError(t *testing.T) {
	t.Parallel()

	store := &fakeRetentionStore{err: errors.New("disk full")}
	j := &RetentionJob{Store: store, MaxAge: time.Hour, Logger: discardLogger()}
	if err := j.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeSweepStore struct {
	swept int64
	calls int
}

func (s *fakeSweepStore) SweepStaleRuns(context.Context, time.Time) (int64, error) {
	s.calls++
	return s.swept, nil
}

func TestSweepJob_Run(t *testing.T) {
	t.Parallel()

	store := &fakeSweepStore{swept: 2}
	j := &SweepJob{Store: store, Logger: discardLogger()}

	if j.Schedule() != "*/10 * * * *" {
		t.Errorf("schedule = %q", j.Schedule())
	}
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.calls != 1 {
		t.Errorf("sweep calls = %d, want 1", store.calls)
	}
}

type fakeTransferStore struct {
	mu      sync.Mutex
	pending []payment.TransferRecord
	marked  map[string]string // transfer id -> status
}

func (s *fakeTransferStore) ListPendingTransfers(context.Context) ([]payment.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]payment.TransferRecord(nil), s.pending...), nil
}

func (s *fakeTransferStore) MarkTransfer(_ context.Context, id, status, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marked == nil {
		s.marked = make(map[string]string)
	}
	s.marked[id] = status
	return nil
}

type fakeStatusClient struct {
	statuses map[string]string // request id -> status
	txRefs   map[string]string
}

func (c *fakeStatusClient) Status(_ context.Context, requestID string) (string, string, error) {
	return c.statuses[requestID], c.txRefs[requestID], nil
}

func TestReconcileJob_Run(t *testing.T) {
	t.Parallel()

	old := time.Now().Add(-time.Hour)
	store := &fakeTransferStore{pending: []payment.TransferRecord{
		{ID: "tr-1", RequestID: "req-1", Status: payment.TransferPending, CreatedAt: old},
		{ID: "tr-2", RequestID: "req-2", Status: payment.TransferPending, CreatedAt: old},
		{ID: "tr-3", RequestID: "req-3", Status: payment.TransferPending, CreatedAt: old},
		// Too young to reconcile: the executor call may still be in flight.
		{ID: "tr-4", RequestID: "req-4", Status: payment.TransferPending, CreatedAt: time.Now()},
	}}
	ledger := &fakeStatusClient{
		statuses: map[string]string{"req-1": "confirmed", "req-2": "failed", "req-3": "unknown"},
		txRefs:   map[string]string{"req-1": "tx-1"},
	}

	j := &ReconcileJob{Store: store, Ledger: ledger, Logger: discardLogger()}
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := map[string]string{
		"tr-1": payment.TransferConfirmed,
		"tr-2": payment.TransferFailed,
		"tr-3": payment.TransferFailed,
	}
	for id, status := range want {
		if store.marked[id] != status {
			t.Errorf("transfer %s marked %q, want %q", id, store.marked[id], status)
		}
	}
	if _, touched := store.marked["tr-4"]; touched {
		t.Error("young pending transfer must be left alone")
	}
}
