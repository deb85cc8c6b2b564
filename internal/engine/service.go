package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/newsieai/newsie/internal/payment"
	"github.com/newsieai/newsie/internal/store"
	"github.com/newsieai/newsie/internal/thread"
)

// SaveThread validates and persists a thread. A running thread is
// re-armed so schedule edits take effect at the next fire; an in-flight
// run keeps its snapshot.
func (e *Engine) SaveThread(ctx context.Context, th *thread.Thread) error {
	if err := th.Validate(); err != nil {
		return err
	}
	if err := e.store.SaveThread(ctx, th); err != nil {
		return err
	}

	saved, err := e.store.GetThread(ctx, th.ID)
	if err != nil {
		return err
	}
	if saved.Running {
		if _, err := e.sched.Arm(ctx, saved); err != nil {
			return fmt.Errorf("engine: re-arming edited thread: %w", err)
		}
	}
	return nil
}

func (e *Engine) GetThread(ctx context.Context, id string) (*thread.Thread, error) {
	return e.store.GetThread(ctx, id)
}

func (e *Engine) ListThreads(ctx context.Context) ([]thread.Thread, error) {
	listed, err := e.store.ListThreads(ctx)
	if err != nil {
		return nil, err
	}
	threads := make([]thread.Thread, 0, len(listed))
	for _, th := range listed {
		threads = append(threads, *th)
	}
	return threads, nil
}

// DeleteThread disarms the thread's job, then removes it.
func (e *Engine) DeleteThread(ctx context.Context, id string) error {
	if err := e.sched.Disarm(ctx, id); err != nil {
		return err
	}
	return e.store.DeleteThread(ctx, id)
}

// StartThread arms the thread and returns its first fire time.
func (e *Engine) StartThread(ctx context.Context, id string) (time.Time, error) {
	th, err := e.store.GetThread(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	return e.sched.Arm(ctx, th)
}

// StopThread disarms the thread. Idempotent.
func (e *Engine) StopThread(ctx context.Context, id string) error {
	return e.sched.Disarm(ctx, id)
}

// RunNow triggers an immediate run outside the schedule. The run is
// parented to the engine's lifetime, not the caller's request.
func (e *Engine) RunNow(ctx context.Context, id string) error {
	if _, err := e.store.GetThread(ctx, id); err != nil {
		return err
	}
	e.mu.Lock()
	base := e.baseCtx
	e.mu.Unlock()
	return e.sched.Trigger(base, id)
}

func (e *Engine) NextFire(id string) (time.Time, bool) {
	return e.sched.NextFire(id)
}

func (e *Engine) InFlight(id string) bool {
	return e.sched.InFlight(id)
}

func (e *Engine) LatestRun(ctx context.Context, id string) (*store.Run, error) {
	return e.store.LatestRun(ctx, id)
}

func (e *Engine) ListRuns(ctx context.Context, id string, limit int) ([]store.Run, error) {
	return e.store.ListRuns(ctx, id, limit)
}

func (e *Engine) ListItems(ctx context.Context, id string, limit int) ([]store.Item, error) {
	return e.store.ListItems(ctx, id, limit)
}

func (e *Engine) ListTransfers(ctx context.Context, limit int) ([]payment.TransferRecord, error) {
	return e.store.ListTransfers(ctx, limit)
}

func (e *Engine) LatestTransfer(ctx context.Context, id string) (*payment.TransferRecord, error) {
	return e.store.LatestTransfer(ctx, id)
}

// Balance reports the payer's remaining ledger balance.
func (e *Engine) Balance(ctx context.Context) (float64, error) {
	if e.ledger == nil {
		return 0, ErrLedgerDisabled
	}
	return e.ledger.Balance(ctx)
}
