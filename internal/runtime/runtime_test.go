package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/newsieai/newsie/internal/events"
	"github.com/newsieai/newsie/internal/payment"
	"github.com/newsieai/newsie/internal/retrieval"
	"github.com/newsieai/newsie/internal/schedule"
	"github.com/newsieai/newsie/internal/store"
	"github.com/newsieai/newsie/internal/telemetry"
	"github.com/newsieai/newsie/internal/thread"
)

type insertedBatch struct {
	runID      string
	blockIndex int
	items      []retrieval.Item
}

type memSink struct {
	mu      sync.Mutex
	threads map[string]*thread.Thread
	runs    map[string]*store.Run
	batches []insertedBatch
}

func newMemSink(threads ...*thread.Thread) *memSink {
	s := &memSink{
		threads: make(map[string]*thread.Thread),
		runs:    make(map[string]*store.Run),
	}
	for _, th := range threads {
		s.threads[th.ID] = th
	}
	return s
}

func (s *memSink) GetThread(_ context.Context, id string) (*thread.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[id]
	if !ok {
		return nil, store.ErrThreadNotFound
	}
	return th, nil
}

func (s *memSink) InsertRun(_ context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = &run
	return nil
}

func (s *memSink) FinishRun(_ context.Context, runID, status string, outcomes []store.BlockOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrRunNotFound
	}
	run.Status = status
	run.Outcomes = outcomes
	return nil
}

func (s *memSink) InsertItems(_ context.Context, _, runID string, blockIndex int, items []retrieval.Item, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, insertedBatch{runID: runID, blockIndex: blockIndex, items: items})
	return nil
}

func (s *memSink) soleRun(t *testing.T) *store.Run {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) != 1 {
		t.Fatalf("runs recorded = %d, want 1", len(s.runs))
	}
	for _, run := range s.runs {
		return run
	}
	return nil
}

// scriptedSource answers Fetch with a script keyed on the block's
// first tag.
type scriptedSource struct {
	mu    sync.Mutex
	calls []string // "<tag>:<proof>"
	fetch func(block thread.Block, proof string, attempt int) (*retrieval.Result, error)
	tries map[string]int
}

func (f *scriptedSource) Fetch(_ context.Context, block thread.Block, proof string) (*retrieval.Result, error) {
	tag := block.Tags[0]
	f.mu.Lock()
	if f.tries == nil {
		f.tries = make(map[string]int)
	}
	f.tries[tag]++
	attempt := f.tries[tag]
	f.calls = append(f.calls, fmt.Sprintf("%s:%s", tag, proof))
	f.mu.Unlock()
	return f.fetch(block, proof, attempt)
}

type fakeGate struct {
	mu       sync.Mutex
	requests []payment.Request
	outcome  payment.Outcome
}

func (g *fakeGate) Settle(_ context.Context, req payment.Request) (payment.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return g.outcome, nil
}

func itemsNamed(names ...string) []retrieval.Item {
	items := make([]retrieval.Item, 0, len(names))
	for _, n := range names {
		items = append(items, retrieval.Item{SourceKind: "topic-search", Author: "feed", Text: n})
	}
	return items
}

func testThread(blocks ...thread.Block) *thread.Thread {
	return &thread.Thread{
		ID:       "t-1",
		OwnerID:  "owner-1",
		Name:     "digest",
		Timezone: "UTC",
		Schedule: schedule.Schedule{Type: schedule.TypeDaily, Times: []string{"09:00"}},
		Blocks:   blocks,
	}
}

func directBlock(tags ...string) thread.Block {
	return thread.Block{Kind: thread.KindTopicSearch, Mode: thread.ModeDirect, Tags: tags}
}

func newRuntime(sink Sink, src retrieval.Capability, gate Gate, m *telemetry.Metrics) *Runtime {
	return New(Config{
		Sink:     sink,
		Direct:   src,
		Strategy: src,
		Gate:     gate,
		Metrics:  m,
		Bus:      events.NewBus(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Interval: time.Millisecond,
	})
}

func TestExecute_PartialFailureIsolation(t *testing.T) {
	t.Parallel()

	sink := newMemSink(testThread(directBlock("a"), directBlock("b"), directBlock("c")))
	src := &scriptedSource{fetch: func(block thread.Block, _ string, _ int) (*retrieval.Result, error) {
		if block.Tags[0] == "b" {
			return nil, fmt.Errorf("%w: feed gone", retrieval.ErrPermanent)
		}
		return &retrieval.Result{Items: itemsNamed("x", "y")}, nil
	}}

	rt := newRuntime(sink, src, &fakeGate{}, telemetry.NewMetrics())
	rt.Execute(context.Background(), "t-1")

	run := sink.soleRun(t)
	if run.Status != store.RunCompleted {
		t.Errorf("run status = %s, want completed (one bad block must not fail the run)", run.Status)
	}
	if len(run.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(run.Outcomes))
	}
	if run.Outcomes[0].Status != store.OutcomeOK || run.Outcomes[2].Status != store.OutcomeOK {
		t.Errorf("healthy blocks not ok: %+v", run.Outcomes)
	}
	if run.Outcomes[1].Status != store.OutcomeFailed || run.Outcomes[1].Error == "" {
		t.Errorf("failed block = %+v, want failed with error detail", run.Outcomes[1])
	}
	if len(sink.batches) != 2 {
		t.Errorf("item batches = %d, want 2 (blocks 0 and 2)", len(sink.batches))
	}
}

func TestExecute_AllBlocksFailedFailsRun(t *testing.T) {
	t.Parallel()

	sink := newMemSink(testThread(directBlock("a")))
	src := &scriptedSource{fetch: func(thread.Block, string, int) (*retrieval.Result, error) {
		return nil, fmt.Errorf("%w: boom", retrieval.ErrPermanent)
	}}

	rt := newRuntime(sink, src, &fakeGate{}, telemetry.NewMetrics())
	rt.Execute(context.Background(), "t-1")

	if run := sink.soleRun(t); run.Status != store.RunFailed {
		t.Errorf("run status = %s, want failed", run.Status)
	}
}

func TestExecute_TransientFailureRetries(t *testing.T) {
	t.Parallel()

	sink := newMemSink(testThread(directBlock("a")))
	src := &scriptedSource{fetch: func(_ thread.Block, _ string, attempt int) (*retrieval.Result, error) {
		if attempt < 3 {
			return nil, fmt.Errorf("%w: 503", retrieval.ErrTransient)
		}
		return &retrieval.Result{Items: itemsNamed("late")}, nil
	}}

	rt := newRuntime(sink, src, &fakeGate{}, telemetry.NewMetrics())
	rt.Execute(context.Background(), "t-1")

	run := sink.soleRun(t)
	if run.Status != store.RunCompleted {
		t.Fatalf("run status = %s, want completed after retries", run.Status)
	}
	if got := len(src.calls); got != 3 {
		t.Errorf("fetch attempts = %d, want 3", got)
	}
}

func TestExecute_TransientFailureExhaustsTries(t *testing.T) {
	t.Parallel()

	sink := newMemSink(testThread(directBlock("a")))
	src := &scriptedSource{fetch: func(thread.Block, string, int) (*retrieval.Result, error) {
		return nil, fmt.Errorf("%w: 503", retrieval.ErrTransient)
	}}

	rt := newRuntime(sink, src, &fakeGate{}, telemetry.NewMetrics())
	rt.Execute(context.Background(), "t-1")

	if got := len(src.calls); got != 3 {
		t.Errorf("fetch attempts = %d, want exactly 3", got)
	}
	if run := sink.soleRun(t); run.Status != store.RunFailed {
		t.Errorf("run status = %s, want failed", run.Status)
	}
}

func TestExecute_PaymentConfirmedUnlocksContent(t *testing.T) {
	t.Parallel()

	sink := newMemSink(testThread(directBlock("a")))
	src := &scriptedSource{fetch: func(_ thread.Block, proof string, _ int) (*retrieval.Result, error) {
		if proof == "" {
			return nil, &retrieval.PaymentRequired{Amount: 0.05, Receiver: "rcv-1", ContentRef: "ref-1"}
		}
		if proof != "tx123" {
			return nil, fmt.Errorf("%w: bad proof %q", retrieval.ErrPermanent, proof)
		}
		return &retrieval.Result{Items: itemsNamed("gated")}, nil
	}}
	gate := &fakeGate{outcome: payment.Outcome{State: payment.StateConfirmed, Proof: "tx123"}}
	metrics := telemetry.NewMetrics()

	rt := newRuntime(sink, src, gate, metrics)
	rt.Execute(context.Background(), "t-1")

	run := sink.soleRun(t)
	if run.Status != store.RunCompleted || run.Outcomes[0].Items != 1 {
		t.Fatalf("run = %+v, want completed with 1 item", run)
	}

	if len(gate.requests) != 1 {
		t.Fatalf("settlements = %d, want 1", len(gate.requests))
	}
	req := gate.requests[0]
	if req.ID != "t-1:ref-1" {
		t.Errorf("request id = %q, want stable content-derived id t-1:ref-1", req.ID)
	}
	if req.Amount != 0.05 || req.Receiver != "rcv-1" || req.OwnerID != "owner-1" {
		t.Errorf("request = %+v", req)
	}
	if got := testutil.ToFloat64(metrics.SpentTotal); got != 0.05 {
		t.Errorf("spent total = %v, want 0.05", got)
	}
}

func TestExecute_PaymentDeniedFailsBlockOnly(t *testing.T) {
	t.Parallel()

	sink := newMemSink(testThread(directBlock("gated"), directBlock("open")))
	src := &scriptedSource{fetch: func(block thread.Block, proof string, _ int) (*retrieval.Result, error) {
		if block.Tags[0] == "gated" && proof == "" {
			return nil, &retrieval.PaymentRequired{Amount: 5, Receiver: "rcv-1", ContentRef: "ref-1"}
		}
		return &retrieval.Result{Items: itemsNamed("free")}, nil
	}}
	gate := &fakeGate{outcome: payment.Outcome{State: payment.StateDenied, Reason: "budget_exceeded"}}

	rt := newRuntime(sink, src, gate, telemetry.NewMetrics())
	rt.Execute(context.Background(), "t-1")

	run := sink.soleRun(t)
	if run.Status != store.RunCompleted {
		t.Errorf("run status = %s, want completed", run.Status)
	}
	if run.Outcomes[0].Status != store.OutcomePaymentFailed {
		t.Errorf("gated block outcome = %+v, want payment_failed", run.Outcomes[0])
	}
	if run.Outcomes[1].Status != store.OutcomeOK {
		t.Errorf("open block outcome = %+v, want ok", run.Outcomes[1])
	}

	// No fetch with a proof ever happened for the denied block.
	for _, call := range src.calls {
		if call != "gated:" && call != "open:" {
			t.Errorf("unexpected fetch %q after denial", call)
		}
	}
}

func TestExecute_StillGatedAfterPayment(t *testing.T) {
	t.Parallel()

	sink := newMemSink(testThread(directBlock("a")))
	src := &scriptedSource{fetch: func(_ thread.Block, proof string, _ int) (*retrieval.Result, error) {
		return nil, &retrieval.PaymentRequired{Amount: 0.05, Receiver: "rcv-1", ContentRef: "ref-1"}
	}}
	gate := &fakeGate{outcome: payment.Outcome{State: payment.StateConfirmed, Proof: "tx123"}}

	rt := newRuntime(sink, src, gate, telemetry.NewMetrics())
	rt.Execute(context.Background(), "t-1")

	run := sink.soleRun(t)
	if run.Outcomes[0].Status != store.OutcomePaymentFailed {
		t.Errorf("outcome = %+v, want payment_failed (never pay the same paywall twice)", run.Outcomes[0])
	}
	if len(gate.requests) != 1 {
		t.Errorf("settlements = %d, want 1", len(gate.requests))
	}
}

func TestSkipRecordsTerminalRun(t *testing.T) {
	t.Parallel()

	sink := newMemSink()
	rt := newRuntime(sink, &scriptedSource{fetch: func(thread.Block, string, int) (*retrieval.Result, error) {
		return nil, errors.New("unused")
	}}, &fakeGate{}, telemetry.NewMetrics())

	rt.Skip(context.Background(), "t-1")

	run := sink.soleRun(t)
	if run.Status != store.RunSkipped {
		t.Errorf("status = %s, want skipped", run.Status)
	}
	if run.FinishedAt == nil {
		t.Error("skipped run must be born terminal")
	}
}
