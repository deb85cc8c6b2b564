// Package payment implements the budget-checked payment gate that
// unlocks gated content: it evaluates a payment-required signal against
// the owner's budget policy, invokes the payment executor at most once
// per request, and records an append-only transfer audit trail.
package payment

import (
	"errors"
	"time"
)

// Sentinel errors.
var (
	ErrBudgetExceeded = errors.New("payment: budget exceeded")
	ErrExecutor       = errors.New("payment: executor failure")
)

// State is the gate's position in the settlement state machine.
type State string

// Gate states. Pending -> Evaluating -> {Denied | Approved -> Executing
// -> {Confirmed, ExecutionFailed}}. A request never loops back; a new
// retrieval attempt produces a new request.
const (
	StatePending         State = "pending"
	StateEvaluating      State = "evaluating"
	StateApproved        State = "approved"
	StateExecuting       State = "executing"
	StateConfirmed       State = "confirmed"
	StateExecutionFailed State = "execution_failed"
	StateDenied          State = "denied"
)

// Transfer statuses stored on the audit record.
const (
	TransferPending   = "pending"
	TransferConfirmed = "confirmed"
	TransferFailed    = "failed"
)

// Request is one payment-required signal bound to a thread and owner.
// ID must be unique per retrieval attempt; it doubles as the
// idempotency key toward the ledger.
type Request struct {
	ID         string
	ThreadID   string
	OwnerID    string
	Amount     float64
	Receiver   string
	ContentRef string
}

// Decision is the evaluation outcome before any execution.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Outcome is the terminal result of settling one request.
type Outcome struct {
	State  State  `json:"state"`
	Proof  string `json:"proof,omitempty"` // transaction reference when confirmed
	Reason string `json:"reason,omitempty"`
}

// TransferRecord is one row of the append-only transfer audit trail.
// Never mutated after reaching a terminal status.
type TransferRecord struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	ThreadID   string    `json:"thread_id"`
	OwnerID    string    `json:"owner_id"`
	Payer      string    `json:"payer"`
	Receiver   string    `json:"receiver"`
	Amount     float64   `json:"amount"`
	TxRef      string    `json:"tx_ref,omitempty"`
	FailReason string    `json:"fail_reason,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Policy is the owner's budget: a tier limit, optionally overridden by
// an explicit custom cap. Spending is accounted per rolling UTC day.
type Policy struct {
	TierLimit float64 `yaml:"tier_limit" json:"tier_limit"`
	CustomCap float64 `yaml:"custom_cap" json:"custom_cap"`
}

// Limit returns the effective budget ceiling.
func (p Policy) Limit() float64 {
	if p.CustomCap > 0 {
		return p.CustomCap
	}
	return p.TierLimit
}

// periodStart returns the opening instant of the current accounting
// period for the given time.
func periodStart(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
