// Package query is the client for the downstream conversational query API.
// The session id ties multi-turn exchanges together on the API side, which
// is why pkg/session guarantees its character grammar.
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/textrelay/textrelay/pkg/observability"
)

// Client talks to the query API. Construct one per process and pass it by
// reference.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
}

// Config holds query API client configuration.
type Config struct {
	// BaseURL is the API endpoint (required).
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Timeout bounds one round trip. Default: 30s.
	Timeout time.Duration
	// RequestsPerSecond rate-limits outbound calls. Default: 5.
	RequestsPerSecond float64
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// NewClient creates a query API client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("query api base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		timeout:    timeout,
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		httpClient: httpClient,
	}, nil
}

type queryRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

type queryResponse struct {
	Response string `json:"response"`
}

// Ask sends text under the given session id and returns the reply text.
func (c *Client) Ask(ctx context.Context, sessionID, text string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(queryRequest{SessionID: sessionID, Query: text})
	if err != nil {
		return "", fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordQueryRequest("error", time.Since(start))
		return "", fmt.Errorf("query api request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	observability.RecordQueryRequest(strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("query api status %d: %s", resp.StatusCode, string(detail))
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode query response: %w", err)
	}
	if out.Response == "" {
		return "", errors.New("query api returned an empty response")
	}

	return out.Response, nil
}
