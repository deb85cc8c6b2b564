// Package engine wires the store, scheduler, runtime, payment gate,
// maintenance jobs and gateway into one runnable unit and implements
// the gateway's service contract.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/newsieai/newsie/internal/config"
	"github.com/newsieai/newsie/internal/cron"
	"github.com/newsieai/newsie/internal/events"
	"github.com/newsieai/newsie/internal/gateway"
	"github.com/newsieai/newsie/internal/payment"
	"github.com/newsieai/newsie/internal/retrieval"
	"github.com/newsieai/newsie/internal/runtime"
	"github.com/newsieai/newsie/internal/scheduler"
	"github.com/newsieai/newsie/internal/store"
	"github.com/newsieai/newsie/internal/telemetry"
	"github.com/newsieai/newsie/internal/thread"
)

// ErrLedgerDisabled is returned by Balance when no ledger is configured.
var ErrLedgerDisabled = errors.New("engine: payment ledger not configured")

// Compile-time interface check.
var _ gateway.Service = (*Engine)(nil)

// Engine owns every component and their lifecycles.
type Engine struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *telemetry.Metrics
	bus     *events.Bus

	store  *store.Store
	sched  *scheduler.Scheduler
	ledger *payment.LedgerClient // nil when payment is disabled
	crons  *cron.Scheduler
	gw     *gateway.Server

	mu      sync.Mutex
	baseCtx context.Context // run-scoped parent for manual triggers
}

// New wires an Engine from validated configuration.
func New(cfg *config.Config, log *slog.Logger) (*Engine, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("engine: opening store: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		log:     log,
		metrics: telemetry.NewMetrics(),
		bus:     events.NewBus(),
		store:   st,
		baseCtx: context.Background(),
	}

	direct := retrieval.NewHTTPSource(cfg.Sources.BaseURL, cfg.Sources.APIKey, cfg.Sources.Timeout.Std())

	var strategy retrieval.Capability
	if cfg.Sources.StrategyEndpoint != "" {
		strategy = retrieval.NewStrategySource(cfg.Sources.StrategyEndpoint, "", 0)
	} else {
		strategy = disabledSource{}
	}

	// Without a ledger the gate still runs, but with a zero budget:
	// every paywall is denied and nothing ever reaches an executor.
	policy := payment.Policy{
		TierLimit: cfg.Payment.Budget.TierLimit,
		CustomCap: cfg.Payment.Budget.CustomCap,
	}
	var executor payment.Executor = disabledExecutor{}
	if cfg.Payment.LedgerURL != "" {
		e.ledger = payment.NewLedgerClient(cfg.Payment.LedgerURL, cfg.Payment.APIKey, cfg.Payment.Timeout.Std())
		executor = e.ledger
	} else {
		policy = payment.Policy{}
	}

	gate := payment.NewGate(payment.GateConfig{
		Policies: payment.StaticPolicy(policy),
		Ledger:   st,
		Executor: executor,
		Payer:    cfg.Payment.Payer,
		Timeout:  cfg.Payment.Timeout.Std(),
		Logger:   log,
	})

	rt := runtime.New(runtime.Config{
		Sink:     st,
		Direct:   direct,
		Strategy: strategy,
		Gate:     gate,
		Metrics:  e.metrics,
		Bus:      e.bus,
		Logger:   log,
		MaxTries: cfg.Runtime.MaxTries,
		Interval: cfg.Runtime.RetryInterval.Std(),
	})

	e.sched = scheduler.New(st, rt, e.metrics, log)

	e.crons = cron.NewScheduler(log)
	jobs := []cron.Job{
		&cron.RetentionJob{Store: st, MaxAge: cfg.Maintenance.ItemMaxAge.Std(), Logger: log},
		&cron.SweepJob{Store: st, MaxRunTime: cfg.Maintenance.MaxRunTime.Std(), Logger: log},
	}
	if e.ledger != nil {
		jobs = append(jobs, &cron.ReconcileJob{
			Store:  st,
			Ledger: e.ledger,
			MinAge: cfg.Maintenance.ReconcileMinAge.Std(),
			Logger: log,
		})
	}
	for _, job := range jobs {
		if err := e.crons.RegisterJob(job); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	e.gw = gateway.NewServer(gateway.Config{
		Listen:    cfg.Gateway.Listen,
		AuthToken: cfg.Gateway.AuthToken,
	}, e, e.metrics, e.bus, log)

	return e, nil
}

// Run starts every component and blocks until ctx is canceled or a
// component fails.
func (e *Engine) Run(ctx context.Context) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, e.cfg.Telemetry.OTLPEndpoint, "newsie")
	if err != nil {
		return err
	}

	if err := e.sched.Reconcile(ctx); err != nil {
		return err
	}

	g, runCtx := errgroup.WithContext(ctx)

	e.mu.Lock()
	e.baseCtx = runCtx
	e.mu.Unlock()

	g.Go(func() error {
		if err := e.sched.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := e.crons.Start(); err != nil {
		return err
	}
	if err := e.gw.Start(); err != nil {
		_ = e.crons.Stop(ctx)
		return err
	}

	e.log.Info("engine started",
		"listen", e.cfg.Gateway.Listen,
		"store", e.cfg.Store.Path,
		"payment", e.ledger != nil)

	<-runCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var errs []error
	if err := e.gw.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := e.crons.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// disabledSource rejects strategy-assisted blocks when no MCP endpoint
// is configured.
type disabledSource struct{}

func (disabledSource) Fetch(context.Context, thread.Block, string) (*retrieval.Result, error) {
	return nil, fmt.Errorf("%w: strategy-assisted retrieval not configured", retrieval.ErrPermanent)
}

// disabledExecutor is unreachable behind a zero budget; it exists so
// the gate always has an executor.
type disabledExecutor struct{}

func (disabledExecutor) Pay(context.Context, string, string, float64) (string, error) {
	return "", fmt.Errorf("%w: no ledger configured", payment.ErrExecutor)
}
