package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Executor moves funds on the ledger. It is opaque to the gate: it
// either returns a transaction reference or fails. requestID is passed
// as an idempotency key so an ambiguous outcome can later be reconciled.
type Executor interface {
	Pay(ctx context.Context, requestID, receiver string, amount float64) (txRef string, err error)
}

// Ledger is the durable audit trail the gate writes to. Implemented by
// the store.
type Ledger interface {
	FindTransferByRequest(ctx context.Context, requestID string) (*TransferRecord, error)
	InsertTransfer(ctx context.Context, rec TransferRecord) error
	MarkTransfer(ctx context.Context, id, status, txRef, failReason string) error
	SumSpentSince(ctx context.Context, ownerID string, since time.Time) (float64, error)
}

// PolicySource resolves the budget policy for an owner. In a full
// deployment this is backed by the profile service; the engine wires a
// config-backed static source.
type PolicySource interface {
	PolicyFor(ownerID string) Policy
}

// StaticPolicy is a PolicySource returning the same policy for every owner.
type StaticPolicy Policy

// PolicyFor implements PolicySource.
func (p StaticPolicy) PolicyFor(string) Policy { return Policy(p) }

// Gate drives one payment request through the settlement state machine.
type Gate struct {
	policies PolicySource
	ledger   Ledger
	exec     Executor
	payer    string
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// GateConfig configures a Gate.
type GateConfig struct {
	Policies PolicySource
	Ledger   Ledger
	Executor Executor
	Payer    string        // payer reference recorded on transfers
	Timeout  time.Duration // per-execution bound, default 60s
	Logger   *slog.Logger
	Now      func() time.Time // injectable for testing
}

// NewGate creates a Gate.
func NewGate(cfg GateConfig) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gate{
		policies: cfg.Policies,
		ledger:   cfg.Ledger,
		exec:     cfg.Executor,
		payer:    cfg.Payer,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// Settle drives req to a terminal state and returns the outcome. The
// returned error is reserved for infrastructure failures (ledger I/O);
// denial and execution failure are expressed through the outcome.
//
// Exactly one executor call is ever issued per request ID: before
// executing, the gate checks the ledger for an existing transfer, so a
// retry after an ambiguous executor response never double-pays.
func (g *Gate) Settle(ctx context.Context, req Request) (Outcome, error) {
	// Pending -> Evaluating.
	decision, err := g.evaluate(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	if !decision.Approved {
		// Denials are logged, not written to the transfer trail.
		g.logger.Info("payment: denied",
			"request", req.ID,
			"thread", req.ThreadID,
			"amount", req.Amount,
			"reason", decision.Reason,
		)
		return Outcome{State: StateDenied, Reason: decision.Reason}, nil
	}

	// Approved -> Executing, guarded against double execution.
	existing, err := g.ledger.FindTransferByRequest(ctx, req.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("payment: checking transfer trail: %w", err)
	}
	if existing != nil {
		return g.resumeExisting(req, existing), nil
	}

	rec := TransferRecord{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		ThreadID:  req.ThreadID,
		OwnerID:   req.OwnerID,
		Payer:     g.payer,
		Receiver:  req.Receiver,
		Amount:    req.Amount,
		Status:    TransferPending,
		CreatedAt: g.now().UTC(),
	}
	// The pending record is written BEFORE the executor call so a crash
	// or timeout mid-execution leaves evidence for reconciliation.
	if err := g.ledger.InsertTransfer(ctx, rec); err != nil {
		return Outcome{}, fmt.Errorf("payment: recording pending transfer: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	txRef, execErr := g.exec.Pay(execCtx, req.ID, req.Receiver, req.Amount)
	switch {
	case execErr == nil:
		if err := g.ledger.MarkTransfer(ctx, rec.ID, TransferConfirmed, txRef, ""); err != nil {
			return Outcome{}, fmt.Errorf("payment: confirming transfer: %w", err)
		}
		g.logger.Info("payment: confirmed",
			"request", req.ID,
			"thread", req.ThreadID,
			"amount", req.Amount,
			"tx", txRef,
		)
		return Outcome{State: StateConfirmed, Proof: txRef}, nil

	case errors.Is(execErr, context.DeadlineExceeded) || errors.Is(execErr, context.Canceled):
		// Ambiguous: the transfer may have gone through. Leave the record
		// pending; the reconciliation job resolves it against the ledger.
		// Must not assume success.
		g.logger.Warn("payment: executor timed out, pending reconciliation",
			"request", req.ID,
			"thread", req.ThreadID,
		)
		return Outcome{State: StateExecutionFailed, Reason: "executor timeout, pending reconciliation"}, nil

	default:
		reason := execErr.Error()
		if err := g.ledger.MarkTransfer(ctx, rec.ID, TransferFailed, "", reason); err != nil {
			return Outcome{}, fmt.Errorf("payment: recording failed transfer: %w", err)
		}
		g.logger.Warn("payment: execution failed",
			"request", req.ID,
			"thread", req.ThreadID,
			"error", execErr,
		)
		return Outcome{State: StateExecutionFailed, Reason: reason}, nil
	}
}

// evaluate checks the request amount against the owner's remaining
// budget for the current period. Pending transfers count as spent until
// reconciled.
func (g *Gate) evaluate(ctx context.Context, req Request) (Decision, error) {
	policy := g.policies.PolicyFor(req.OwnerID)
	limit := policy.Limit()

	spent, err := g.ledger.SumSpentSince(ctx, req.OwnerID, periodStart(g.now()))
	if err != nil {
		return Decision{}, fmt.Errorf("payment: summing period spend: %w", err)
	}

	if spent+req.Amount > limit {
		return Decision{Approved: false, Reason: "budget_exceeded"}, nil
	}
	return Decision{Approved: true}, nil
}

// resumeExisting maps an already-recorded transfer for this request to
// an outcome without re-invoking the executor.
func (g *Gate) resumeExisting(req Request, rec *TransferRecord) Outcome {
	switch rec.Status {
	case TransferConfirmed:
		return Outcome{State: StateConfirmed, Proof: rec.TxRef}
	case TransferPending:
		g.logger.Warn("payment: transfer already pending, not re-issuing",
			"request", req.ID,
			"transfer", rec.ID,
		)
		return Outcome{State: StateExecutionFailed, Reason: "transfer pending reconciliation"}
	default:
		return Outcome{State: StateExecutionFailed, Reason: rec.FailReason}
	}
}
