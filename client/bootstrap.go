package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ErrNotFound is returned when the server has no attempt for a signature.
var ErrNotFound = errors.New("bootstrap attempt not found")

// Attempt is a bootstrap attempt as reported by the server.
type Attempt struct {
	ProgramID     string     `json:"program_id"`
	StateAccount  string     `json:"state_account"`
	Payer         string     `json:"payer"`
	Network       string     `json:"network"`
	Signature     *string    `json:"signature,omitempty"`
	State         string     `json:"state"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// Terminal reports whether the attempt's state machine is done advancing.
func (a *Attempt) Terminal() bool {
	switch a.State {
	case "confirmed", "failed", "timed_out":
		return true
	}
	return false
}

// BootstrapRequest describes a bootstrap to start.
type BootstrapRequest struct {
	ProgramID string                 `json:"program_id"`
	Network   string                 `json:"network,omitempty"`
	Seed      string                 `json:"seed,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
}

// WorkflowHandle identifies an asynchronously started bootstrap workflow.
type WorkflowHandle struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// Client is the HTTP client for the solboot bootstrap service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new bootstrap service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Bootstrap asks the server to initialize a program's state account and
// blocks until the attempt reaches a terminal state. The returned attempt's
// State field tells the outcome: confirmed, failed, or timed_out.
func (c *Client) Bootstrap(ctx context.Context, req BootstrapRequest) (*Attempt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/bootstraps?wait=true", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var attempt Attempt
	if err := json.NewDecoder(resp.Body).Decode(&attempt); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("bootstrap completed",
		"program_id", attempt.ProgramID,
		"state", attempt.State,
	)
	return &attempt, nil
}

// Start asks the server to initialize a program's state account without
// waiting for the outcome. Use Get with the eventual signature, or query the
// workflow through the service CLI, to learn the result.
func (c *Client) Start(ctx context.Context, req BootstrapRequest) (*WorkflowHandle, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/bootstraps", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, c.parseErrorResponse(resp)
	}

	var handle WorkflowHandle
	if err := json.NewDecoder(resp.Body).Decode(&handle); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("bootstrap started", "program_id", req.ProgramID, "workflow_id", handle.WorkflowID)
	return &handle, nil
}

// Get retrieves a recorded attempt by its transaction signature.
func (c *Client) Get(ctx context.Context, signature string) (*Attempt, error) {
	u := fmt.Sprintf("%s/api/v1/bootstraps/%s", c.baseURL, url.PathEscape(signature))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var attempt Attempt
	if err := json.NewDecoder(resp.Body).Decode(&attempt); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &attempt, nil
}

// ListOptions filters a List call. Zero values mean no filter and server
// defaults for pagination. Network is required whenever ProgramID is set:
// attempts are keyed by (program, network) and the server rejects a program
// filter without one.
type ListOptions struct {
	ProgramID string
	Network   string
	Limit     int
	Offset    int
}

// List retrieves recorded attempts, newest first.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]*Attempt, error) {
	q := url.Values{}
	if opts.ProgramID != "" {
		if opts.Network == "" {
			return nil, fmt.Errorf("network is required when filtering by program_id")
		}
		q.Set("program_id", opts.ProgramID)
		q.Set("network", opts.Network)
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", opts.Offset))
	}

	u := c.baseURL + "/api/v1/bootstraps"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Attempts []*Attempt `json:"attempts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return response.Attempts, nil
}

// Await polls for an attempt by signature until it reaches a terminal state
// or the context is cancelled. Useful after a timed-out bootstrap, where the
// transaction may still land.
func (c *Client) Await(ctx context.Context, signature string, interval time.Duration) (*Attempt, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		attempt, err := c.Get(ctx, signature)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if err == nil && attempt.Terminal() {
			return attempt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
