package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/observer"
)

const defaultToolTimeout = 5 * time.Second

// ToolTicketRequest is the body POSTed to the ticket tool endpoint.
type ToolTicketRequest struct {
	WorkspaceID string `json:"workspace_id"`
	CallID      string `json:"call_id"`
	FromPhone   string `json:"from_phone"`
	ToPhone     string `json:"to_phone,omitempty"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

type toolTicketResponse struct {
	TicketID string `json:"ticket_id"`
}

// ToolInvoker creates tickets through the tool the conversational model uses.
type ToolInvoker interface {
	CreateTicket(ctx context.Context, req ToolTicketRequest) (ticketID string, err error)
}

// HTTPToolInvoker calls the tool endpoint once per CreateTicket, bounded by
// its own timeout on top of the caller's context.
type HTTPToolInvoker struct {
	httpClient *http.Client
	url        string
	apiKey     string
	timeout    time.Duration
}

func NewHTTPToolInvoker(url, apiKey string, timeout time.Duration) *HTTPToolInvoker {
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	return &HTTPToolInvoker{
		httpClient: &http.Client{},
		url:        url,
		apiKey:     apiKey,
		timeout:    timeout,
	}
}

func (c *HTTPToolInvoker) CreateTicket(ctx context.Context, req ToolTicketRequest) (ticketID string, err error) {
	start := time.Now()
	defer func() { observer.ObserveToolCall(time.Since(start), err) }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", apperrors.ErrToolCall, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", apperrors.ErrToolCall, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: http request: %v", apperrors.ErrToolCall, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", apperrors.ErrToolCall, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out toolTicketResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", apperrors.ErrToolCall, err)
	}
	if out.TicketID == "" {
		return "", fmt.Errorf("%w: response has no ticket_id", apperrors.ErrToolCall)
	}
	return out.TicketID, nil
}

var _ ToolInvoker = (*HTTPToolInvoker)(nil)
