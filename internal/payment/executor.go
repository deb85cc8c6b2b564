package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LedgerClient is the HTTP payment executor: it asks an external ledger
// service to move funds and reports the transaction reference. The
// request ID travels as an idempotency key so the ledger can deduplicate
// and later answer status queries for ambiguous outcomes.
type LedgerClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewLedgerClient creates an executor client. Timeout bounds each
// request; zero means 60s.
func NewLedgerClient(baseURL, apiKey string, timeout time.Duration) *LedgerClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LedgerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type transferRequest struct {
	RequestID string  `json:"request_id"`
	Receiver  string  `json:"receiver"`
	Amount    float64 `json:"amount"`
}

type transferResponse struct {
	TxRef  string `json:"tx_ref"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Pay implements Executor.
func (c *LedgerClient) Pay(ctx context.Context, requestID, receiver string, amount float64) (string, error) {
	body, err := json.Marshal(transferRequest{RequestID: requestID, Receiver: receiver, Amount: amount})
	if err != nil {
		return "", fmt.Errorf("%w: encoding transfer: %v", ErrExecutor, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", ErrExecutor, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", requestID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Let the gate see the deadline: an in-flight transfer may
			// still land, so this must not be reported as a clean failure.
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrExecutor, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var tr transferResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tr); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrExecutor, err)
	}

	if resp.StatusCode != http.StatusOK || tr.TxRef == "" {
		reason := tr.Error
		if reason == "" {
			reason = fmt.Sprintf("ledger returned %d", resp.StatusCode)
		}
		return "", fmt.Errorf("%w: %s", ErrExecutor, reason)
	}
	return tr.TxRef, nil
}

// Status queries the ledger for the outcome of a previously issued
// transfer by its idempotency key. Used by the reconciliation job for
// transfers stuck pending after an ambiguous executor response.
// Returns one of "confirmed", "failed", "unknown" plus the transaction
// reference when confirmed.
func (c *LedgerClient) Status(ctx context.Context, requestID string) (status, txRef string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/transfers/"+requestID, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: building request: %v", ErrExecutor, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrExecutor, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		// The ledger never saw the request: the transfer did not happen.
		return "unknown", "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: ledger returned %d", ErrExecutor, resp.StatusCode)
	}

	var tr transferResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tr); err != nil {
		return "", "", fmt.Errorf("%w: decoding response: %v", ErrExecutor, err)
	}
	return tr.Status, tr.TxRef, nil
}

// Balance returns the payer's remaining ledger balance.
func (c *LedgerClient) Balance(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("%w: building request: %v", ErrExecutor, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExecutor, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: ledger returned %d", ErrExecutor, resp.StatusCode)
	}

	var payload struct {
		Balance float64 `json:"balance"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return 0, fmt.Errorf("%w: decoding response: %v", ErrExecutor, err)
	}
	return payload.Balance, nil
}
