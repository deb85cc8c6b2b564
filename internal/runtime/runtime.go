// Package runtime executes one thread run: it snapshots the thread,
// walks its blocks in order, retries transient retrieval failures,
// settles paywalls through the payment gate, and persists per-block
// outcomes so one bad block never poisons the rest of the run.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/newsieai/newsie/internal/events"
	"github.com/newsieai/newsie/internal/payment"
	"github.com/newsieai/newsie/internal/retrieval"
	"github.com/newsieai/newsie/internal/store"
	"github.com/newsieai/newsie/internal/telemetry"
	"github.com/newsieai/newsie/internal/thread"
)

const defaultMaxTries = 3

var errPaymentDeclined = errors.New("runtime: payment not confirmed")

// Sink is the slice of the store the runtime writes through.
type Sink interface {
	GetThread(ctx context.Context, id string) (*thread.Thread, error)
	InsertRun(ctx context.Context, run store.Run) error
	FinishRun(ctx context.Context, runID, status string, outcomes []store.BlockOutcome) error
	InsertItems(ctx context.Context, threadID, runID string, blockIndex int, items []retrieval.Item, retrievedAt time.Time) error
}

// Gate settles payment-required signals.
type Gate interface {
	Settle(ctx context.Context, req payment.Request) (payment.Outcome, error)
}

type Runtime struct {
	sink     Sink
	direct   retrieval.Capability
	strategy retrieval.Capability
	gate     Gate
	metrics  *telemetry.Metrics
	bus      *events.Bus
	log      *slog.Logger
	now      func() time.Time
	maxTries uint
	interval time.Duration
}

type Config struct {
	Sink     Sink
	Direct   retrieval.Capability // direct-mode blocks
	Strategy retrieval.Capability // strategy-assisted blocks
	Gate     Gate
	Metrics  *telemetry.Metrics
	Bus      *events.Bus
	Logger   *slog.Logger
	Now      func() time.Time
	MaxTries uint          // retrieval attempts per block, default 3
	Interval time.Duration // initial retry backoff, default 500ms
}

func New(cfg Config) *Runtime {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = defaultMaxTries
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	return &Runtime{
		sink:     cfg.Sink,
		direct:   cfg.Direct,
		strategy: cfg.Strategy,
		gate:     cfg.Gate,
		metrics:  cfg.Metrics,
		bus:      cfg.Bus,
		log:      cfg.Logger.With("component", "runtime"),
		now:      cfg.Now,
		maxTries: cfg.MaxTries,
		interval: cfg.Interval,
	}
}

// Execute runs the thread once. Errors are recorded on the run, never
// returned: the scheduler fires and forgets.
func (r *Runtime) Execute(ctx context.Context, threadID string) {
	th, err := r.sink.GetThread(ctx, threadID)
	if err != nil {
		r.log.Error("loading thread for run", "thread_id", threadID, "error", err)
		return
	}
	// The run works on a snapshot: edits landing mid-run apply to the
	// next fire, not this one.
	blocks := th.Snapshot()

	started := r.now()
	run := store.Run{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Status:    store.RunRunning,
		StartedAt: started,
	}
	if err := r.sink.InsertRun(ctx, run); err != nil {
		r.log.Error("recording run start", "thread_id", threadID, "error", err)
		return
	}
	r.publish(events.Event{Type: events.TypeRunStarted, ThreadID: threadID, RunID: run.ID})
	r.log.Info("run started", "thread_id", threadID, "run_id", run.ID, "blocks", len(blocks))

	outcomes := make([]store.BlockOutcome, 0, len(blocks))
	failures := 0
	for i, block := range blocks {
		outcome := r.executeBlock(ctx, th, run.ID, i, block)
		if outcome.Status != store.OutcomeOK {
			failures++
		}
		r.metrics.BlocksTotal.WithLabelValues(outcome.Status).Inc()
		outcomes = append(outcomes, outcome)
	}

	status := store.RunCompleted
	if failures == len(blocks) && len(blocks) > 0 {
		status = store.RunFailed
	}
	if err := r.sink.FinishRun(ctx, run.ID, status, outcomes); err != nil {
		r.log.Error("recording run finish", "run_id", run.ID, "error", err)
		return
	}

	r.metrics.RunsTotal.WithLabelValues(status).Inc()
	r.metrics.RunDuration.Observe(r.now().Sub(started).Seconds())
	r.publish(events.Event{Type: events.TypeRunFinished, ThreadID: threadID, RunID: run.ID, Detail: status})
	r.log.Info("run finished",
		"thread_id", threadID, "run_id", run.ID,
		"status", status, "failed_blocks", failures)
}

// Skip records a coalesced fire: a run row born terminal, so get_status
// shows the fire happened and why nothing ran.
func (r *Runtime) Skip(ctx context.Context, threadID string) {
	now := r.now()
	run := store.Run{
		ID:         uuid.NewString(),
		ThreadID:   threadID,
		Status:     store.RunSkipped,
		StartedAt:  now,
		FinishedAt: &now,
	}
	if err := r.sink.InsertRun(ctx, run); err != nil {
		r.log.Error("recording skipped run", "thread_id", threadID, "error", err)
		return
	}
	r.metrics.RunsTotal.WithLabelValues(store.RunSkipped).Inc()
	r.publish(events.Event{Type: events.TypeRunSkipped, ThreadID: threadID, RunID: run.ID})
}

func (r *Runtime) executeBlock(ctx context.Context, th *thread.Thread, runID string, index int, block thread.Block) store.BlockOutcome {
	ctx, span := telemetry.Tracer().Start(ctx, "runtime.block")
	defer span.End()

	outcome := store.BlockOutcome{Index: index, Kind: string(block.Kind), Status: store.OutcomeOK}

	items, err := r.runBlock(ctx, th, block)
	if err != nil {
		if errors.Is(err, errPaymentDeclined) {
			outcome.Status = store.OutcomePaymentFailed
		} else {
			outcome.Status = store.OutcomeFailed
		}
		outcome.Error = err.Error()
		r.log.Warn("block failed",
			"thread_id", th.ID, "run_id", runID,
			"block", index, "kind", block.Kind, "error", err)
		return outcome
	}

	if err := r.sink.InsertItems(ctx, th.ID, runID, index, items, r.now()); err != nil {
		outcome.Status = store.OutcomeFailed
		outcome.Error = fmt.Sprintf("persisting items: %v", err)
		return outcome
	}
	outcome.Items = len(items)
	r.metrics.ItemsTotal.Add(float64(len(items)))
	return outcome
}

// runBlock fetches a block's content, settling at most one paywall.
func (r *Runtime) runBlock(ctx context.Context, th *thread.Thread, block thread.Block) ([]retrieval.Item, error) {
	source := r.direct
	if block.Mode == thread.ModeStrategy {
		source = r.strategy
	}

	res, err := r.fetch(ctx, source, block, "")
	var payReq *retrieval.PaymentRequired
	if !errors.As(err, &payReq) {
		if err != nil {
			return nil, err
		}
		return res.Items, nil
	}

	proof, err := r.settle(ctx, th, payReq)
	if err != nil {
		return nil, err
	}

	res, err = r.fetch(ctx, source, block, proof)
	if err != nil {
		// A second paywall after a confirmed payment is a source defect,
		// not something to pay again.
		if errors.As(err, &payReq) {
			return nil, fmt.Errorf("%w: content still gated after payment", errPaymentDeclined)
		}
		return nil, err
	}
	return res.Items, nil
}

// fetch retries transient failures with exponential backoff. Permanent
// failures and paywalls abort the retry loop immediately.
func (r *Runtime) fetch(ctx context.Context, source retrieval.Capability, block thread.Block, proof string) (*retrieval.Result, error) {
	op := func() (*retrieval.Result, error) {
		res, err := source.Fetch(ctx, block, proof)
		if err != nil {
			if retrieval.IsTransient(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return res, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = r.interval
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(r.maxTries),
	)
}

// settle drives the paywall through the gate and returns the payment
// proof on confirmation.
func (r *Runtime) settle(ctx context.Context, th *thread.Thread, payReq *retrieval.PaymentRequired) (string, error) {
	req := payment.Request{
		ID:         requestID(th.ID, payReq),
		ThreadID:   th.ID,
		OwnerID:    th.OwnerID,
		Amount:     payReq.Amount,
		Receiver:   payReq.Receiver,
		ContentRef: payReq.ContentRef,
	}

	outcome, err := r.gate.Settle(ctx, req)
	if err != nil {
		return "", fmt.Errorf("settling payment: %w", err)
	}

	r.metrics.PaymentsTotal.WithLabelValues(string(outcome.State)).Inc()
	r.publish(events.Event{Type: events.TypePayment, ThreadID: th.ID, Detail: string(outcome.State)})

	if outcome.State != payment.StateConfirmed {
		return "", fmt.Errorf("%w: %s (%s)", errPaymentDeclined, outcome.State, outcome.Reason)
	}
	r.metrics.SpentTotal.Add(payReq.Amount)
	return outcome.Proof, nil
}

// requestID derives a stable payment request id from the gated content,
// so a retried run resumes the same settlement instead of paying twice.
func requestID(threadID string, payReq *retrieval.PaymentRequired) string {
	if payReq.ContentRef != "" {
		return threadID + ":" + payReq.ContentRef
	}
	return uuid.NewString()
}

func (r *Runtime) publish(ev events.Event) {
	if r.bus != nil {
		r.bus.Publish(ev)
	}
}
