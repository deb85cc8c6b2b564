package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/newsieai/newsie/internal/thread"
)

// StrategySource is the agent-mediated retrieval adapter. It invokes a
// retrieve tool on an external MCP server; the agent behind it may issue
// multiple underlying retrievals and applies the block's method hint
// before returning a normalized item set. The engine only sees the
// Capability contract.
type StrategySource struct {
	endpoint string
	tool     string
	timeout  time.Duration

	initOnce sync.Once
	initErr  error
	client   *client.Client
}

// NewStrategySource creates an MCP-backed strategy adapter. The tool
// name defaults to "retrieve"; timeout bounds each call, zero means 120s
// (agent-mediated retrieval is slow by nature).
func NewStrategySource(endpoint, tool string, timeout time.Duration) *StrategySource {
	if tool == "" {
		tool = "retrieve"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &StrategySource{endpoint: endpoint, tool: tool, timeout: timeout}
}

// connect lazily establishes and initializes the MCP session.
func (s *StrategySource) connect(ctx context.Context) error {
	s.initOnce.Do(func() {
		c, err := client.NewStreamableHttpClient(s.endpoint)
		if err != nil {
			s.initErr = fmt.Errorf("%w: mcp client: %v", ErrPermanent, err)
			return
		}
		if err := c.Start(ctx); err != nil {
			s.initErr = fmt.Errorf("%w: mcp start: %v", ErrTransient, err)
			return
		}

		initReq := mcp.InitializeRequest{}
		initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		initReq.Params.ClientInfo = mcp.Implementation{Name: "newsie", Version: "1.0.0"}
		if _, err := c.Initialize(ctx, initReq); err != nil {
			s.initErr = fmt.Errorf("%w: mcp initialize: %v", ErrTransient, err)
			return
		}
		s.client = c
	})
	return s.initErr
}

// strategyPayload is the JSON document the retrieve tool returns in its
// text content: either an item set or a payment-required signal.
type strategyPayload struct {
	Items           []Item           `json:"items"`
	PaymentRequired *PaymentRequired `json:"payment_required,omitempty"`
}

// Fetch implements Capability.
func (s *StrategySource) Fetch(ctx context.Context, block thread.Block, proof string) (*Result, error) {
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = s.tool
	req.Params.Arguments = map[string]any{
		"kind":   string(block.Kind),
		"tags":   strings.Join(block.Tags, ","),
		"method": string(block.EffectiveMethod()),
		"proof":  proof,
	}

	res, err := s.client.CallTool(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: mcp call: %v", ErrTransient, err)
	}

	text := firstText(res.Content)
	if res.IsError {
		// Tool-level errors carry their reason as text; the agent has its
		// own internal retries, so treat them as transient here.
		return nil, fmt.Errorf("%w: agent: %s", ErrTransient, text)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: agent returned no content", ErrPermanent)
	}

	var payload strategyPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding agent payload: %v", ErrPermanent, err)
	}
	if payload.PaymentRequired != nil {
		return nil, payload.PaymentRequired
	}
	return &Result{Items: payload.Items}, nil
}

// Close tears down the MCP session if one was established.
func (s *StrategySource) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func firstText(contents []mcp.Content) string {
	for _, c := range contents {
		if tc, ok := mcp.AsTextContent(c); ok {
			return tc.Text
		}
	}
	return ""
}
