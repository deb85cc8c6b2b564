// Package retrieval defines the pluggable content-retrieval contract:
// a capability either returns items, fails, or signals that the content
// is gated behind a payment.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/newsieai/newsie/internal/thread"
)

// Sentinel errors classifying retrieval failures. Transient failures are
// retried with backoff; permanent ones fail the block immediately.
var (
	ErrTransient = errors.New("retrieval: transient failure")
	ErrPermanent = errors.New("retrieval: permanent failure")
)

// Item is one normalized unit of retrieved content.
type Item struct {
	SourceKind string `json:"source_kind"`
	Author     string `json:"author"`
	Text       string `json:"text"`
	QuotedRef  string `json:"quoted_ref,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Result is a successful retrieval.
type Result struct {
	Items []Item `json:"items"`
}

// PaymentRequired signals gated content. It is returned as an error from
// Fetch so callers can distinguish it with errors.As; it carries the
// price, the receiver of the payment, and an opaque reference to the
// content to re-fetch once paid.
type PaymentRequired struct {
	Amount     float64 `json:"amount"`
	Receiver   string  `json:"receiver"`
	ContentRef string  `json:"content_ref"`
}

// Error implements the error interface.
func (e *PaymentRequired) Error() string {
	return fmt.Sprintf("retrieval: payment of %.6f required by %s", e.Amount, e.Receiver)
}

// Capability fetches content for one block. A non-empty proof is the
// transaction reference of a completed payment and unlocks gated
// content. Implementations must honour ctx cancellation and bound their
// own timeouts.
type Capability interface {
	Fetch(ctx context.Context, block thread.Block, proof string) (*Result, error)
}
