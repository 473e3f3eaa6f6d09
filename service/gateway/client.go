// Package gateway is the REST client for the execution backend: run
// creation, stop, approval forwarding, status/result fetches and audit
// persistence. The orchestrator is its only caller; every method is
// context-bound and returns wrapped errors the caller logs and retries.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/luxera/rungate/runtime/run"
	"github.com/luxera/rungate/service/audit"
	"github.com/luxera/rungate/tracing"
)

const defaultTimeout = 15 * time.Second

// Client talks to the execution backend.
type Client struct {
	baseURL     string
	token       string
	tokenMux    sync.Mutex
	tokenSource TokenSource
	http        *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.http = httpClient }
}

// WithToken sets a static bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTokenSource sets a lazy token resolver (e.g. a scy secret URL); it is
// consulted once on first use.
func WithTokenSource(source TokenSource) Option {
	return func(c *Client) { c.tokenSource = source }
}

// New creates a backend client for baseURL.
func New(baseURL string, options ...Option) *Client {
	ret := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// StreamURL returns the SSE endpoint for a run.
func (c *Client) StreamURL(runID string) string {
	return fmt.Sprintf("%s/runs/%s/stream", c.baseURL, runID)
}

type startResponse struct {
	RunID       string `json:"run_id"`
	StreamToken string `json:"stream_token"`
}

// StartRun asks the backend to create a run for the agent and returns the
// local run record in starting state.
func (c *Client) StartRun(ctx context.Context, agentID string) (*run.Run, error) {
	ctx, span := tracing.StartSpan(ctx, "gateway.startRun", "CLIENT")
	var resp startResponse
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/agents/%s/run", agentID), nil, &resp)
	tracing.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("start run for agent %s: %w", agentID, err)
	}
	if resp.RunID == "" {
		return nil, fmt.Errorf("start run for agent %s: backend returned empty run_id", agentID)
	}
	return &run.Run{
		ID:          resp.RunID,
		WorkflowID:  agentID,
		Status:      run.StatusStarting,
		StreamToken: resp.StreamToken,
		CreatedAt:   time.Now(),
	}, nil
}

// Stop asks the backend to terminate the run.
func (c *Client) Stop(ctx context.Context, runID string) error {
	ctx, span := tracing.StartSpan(ctx, "gateway.stop", "CLIENT")
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/runs/%s/stop", runID), nil, nil)
	tracing.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("stop run %s: %w", runID, err)
	}
	return nil
}

// Status fetches the backend's view of the run.
func (c *Client) Status(ctx context.Context, runID string) (*run.Run, error) {
	var resp run.Run
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/runs/%s/status", runID), nil, &resp); err != nil {
		return nil, fmt.Errorf("status of run %s: %w", runID, err)
	}
	return &resp, nil
}

// Result fetches the final result payload of a finished run.
func (c *Client) Result(ctx context.Context, runID string) (*run.ResultPayload, error) {
	ctx, span := tracing.StartSpan(ctx, "gateway.result", "CLIENT")
	var resp run.ResultPayload
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/runs/%s", runID), nil, &resp)
	tracing.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("result of run %s: %w", runID, err)
	}
	return &resp, nil
}

type approveRequest struct {
	Approved bool `json:"approved"`
}

// Approve forwards the gate decision so backend execution resumes (true)
// or aborts (false).
func (c *Client) Approve(ctx context.Context, runID string, approved bool) error {
	ctx, span := tracing.StartSpan(ctx, "gateway.approve", "CLIENT")
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/runs/%s/approve", runID), approveRequest{Approved: approved}, nil)
	tracing.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("forward decision for run %s: %w", runID, err)
	}
	return nil
}

// RecordDecision persists a decision with the backend audit service.
func (c *Client) RecordDecision(ctx context.Context, decision *audit.Decision) error {
	if decision == nil {
		return audit.ErrInvalidDecision
	}
	if err := c.doJSON(ctx, http.MethodPost, "/hitl/decisions", decision, nil); err != nil {
		return fmt.Errorf("record decision %s: %w", decision.RequestID, err)
	}
	return nil
}

// Token returns the resolved bearer token, consulting the token source on
// first use.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.tokenMux.Lock()
	defer c.tokenMux.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	if c.tokenSource == nil {
		return "", nil
	}
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve backend token: %w", err)
	}
	c.token = token
	return token, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %d %s", e.StatusCode, e.Message)
}

func decodeAPIError(resp *http.Response) error {
	type errorPayload struct {
		Error string `json:"error"`
	}
	var payload errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
}

// AsAPIError unwraps err to an *APIError when possible.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}
