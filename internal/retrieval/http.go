package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/newsieai/newsie/internal/thread"
)

// kindPaths maps block kinds to source endpoints.
var kindPaths = map[thread.Kind]string{
	thread.KindUserTimeline:  "/v1/timeline",
	thread.KindTopicSearch:   "/v1/topics",
	thread.KindGeneralSearch: "/v1/search",
}

// HTTPSource is the direct retrieval adapter. It speaks a small HTTP
// protocol: 200 with an items payload on success, 402 with a payment
// payload when the content is gated, and a Bearer transaction reference
// to re-access gated content after payment.
type HTTPSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPSource creates a direct source adapter for the given base URL.
// Timeout bounds each request; zero means 30s.
func NewHTTPSource(baseURL, apiKey string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// paymentPayload is the body of a 402 response.
type paymentPayload struct {
	Amount     float64 `json:"amount"`
	Receiver   string  `json:"receiver"`
	ContentRef string  `json:"content_ref"`
}

// Fetch implements Capability.
func (s *HTTPSource) Fetch(ctx context.Context, block thread.Block, proof string) (*Result, error) {
	path, ok := kindPaths[block.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported kind %q", ErrPermanent, block.Kind)
	}

	q := url.Values{}
	q.Set("tags", strings.Join(block.Tags, ","))
	q.Set("method", string(block.EffectiveMethod()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrPermanent, err)
	}
	// The Authorization header is reserved for the payment proof; the
	// source API key travels separately.
	if s.apiKey != "" {
		req.Header.Set("X-Api-Key", s.apiKey)
	}
	if proof != "" {
		req.Header.Set("Authorization", "Bearer "+proof)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// Network errors and client timeouts are retryable.
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrTransient, err)
	}

	return decodeResponse(resp.StatusCode, body)
}

// decodeResponse maps an HTTP status and body to the capability contract.
func decodeResponse(status int, body []byte) (*Result, error) {
	switch {
	case status == http.StatusOK:
		var result Result
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("%w: decoding items: %v", ErrPermanent, err)
		}
		return &result, nil

	case status == http.StatusPaymentRequired:
		var pay paymentPayload
		if err := json.Unmarshal(body, &pay); err != nil {
			return nil, fmt.Errorf("%w: decoding payment payload: %v", ErrPermanent, err)
		}
		if pay.Amount <= 0 || pay.Receiver == "" {
			return nil, fmt.Errorf("%w: malformed payment payload", ErrPermanent)
		}
		return nil, &PaymentRequired{
			Amount:     pay.Amount,
			Receiver:   pay.Receiver,
			ContentRef: pay.ContentRef,
		}

	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return nil, fmt.Errorf("%w: source returned %d", ErrTransient, status)

	default:
		return nil, fmt.Errorf("%w: source returned %d: %s", ErrPermanent, status, truncate(body, 200))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
