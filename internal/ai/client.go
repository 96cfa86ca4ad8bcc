// Package ai provides the HTTP client for the OpenAI-compatible AI
// gateway: chat completions (with optional tool calling) and embeddings.
// Transient upstream failures are retried with exponential backoff and
// jitter; deterministic failures are surfaced immediately.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"pulsecrm/backend/internal/logging"
)

// maxResponseSize limits the gateway response body to prevent memory
// exhaustion on a misbehaving upstream.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Config holds the gateway endpoint settings.
type Config struct {
	// BaseURL is the gateway root, e.g. "https://api.openai.com/v1".
	BaseURL string
	// DefaultModel is used when the step config names none.
	DefaultModel string
	// EmbeddingModel is used for all embedding requests.
	EmbeddingModel string
	// Timeout bounds each HTTP call.
	Timeout time.Duration
}

// RetryConfig controls retry behavior for transient gateway failures.
type RetryConfig struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultRetryConfig returns sensible retry defaults for gateway requests.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// APIError is a non-2xx gateway response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ai gateway returned %d: %s", e.Status, e.Body)
}

// Transient reports whether the failure may succeed on retry.
func (e *APIError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Message is one chat turn. ToolCalls and ToolCallID are only set on
// assistant and tool messages respectively.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-requested invocation of a declared tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// MarshalJSON emits the OpenAI wire shape so assistant turns can be
// echoed back verbatim during a tool loop.
func (tc ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"id":   tc.ID,
		"type": "function",
		"function": map[string]string{
			"name":      tc.Name,
			"arguments": tc.Arguments,
		},
	})
}

// Tool declares a callable function to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatRequest is a completion request.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
	Tools       []Tool
}

// ChatResponse is the parsed completion result.
type ChatResponse struct {
	Content      string
	Model        string
	ToolCalls    []ToolCall
	FinishReason string
	TotalTokens  int
}

// Client talks to the AI gateway. The bearer key is passed per call
// because it is resolved per tenant, not per process.
type Client struct {
	cfg        Config
	retry      RetryConfig
	httpClient *http.Client
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(rc RetryConfig) Option {
	return func(c *Client) { c.retry = rc }
}

// NewClient creates a gateway client.
func NewClient(cfg Config, logger *logging.Logger, opts ...Option) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		retry:      DefaultRetryConfig(),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chat sends a completion request, retrying transient failures.
func (c *Client) Chat(ctx context.Context, apiKey string, req ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}

	body := map[string]any{
		"model":    model,
		"messages": req.Messages,
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		body["tools"] = tools
	}

	var out chatCompletionResponse
	if err := c.doWithRetry(ctx, apiKey, "/chat/completions", body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("gateway response has no choices")
	}

	choice := out.Choices[0]
	resp := &ChatResponse{
		Content:      choice.Message.Content,
		Model:        out.Model,
		FinishReason: choice.FinishReason,
		TotalTokens:  out.Usage.TotalTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp, nil
}

// Embed returns the embedding vector for a text.
func (c *Client) Embed(ctx context.Context, apiKey, text string) ([]float32, error) {
	body := map[string]any{
		"model": c.cfg.EmbeddingModel,
		"input": []string{text},
	}
	var out embeddingResponse
	if err := c.doWithRetry(ctx, apiKey, "/embeddings", body, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("gateway response has no embedding data")
	}
	return out.Data[0].Embedding, nil
}

func (c *Client) doWithRetry(ctx context.Context, apiKey, path string, body, out any) error {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		err := c.do(ctx, apiKey, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Transient() {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		if attempt < c.retry.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("gateway request failed, retrying",
				"path", path,
				"attempt", attempt,
				"backoff", backoff,
				"error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, apiKey, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		excerpt := string(respBody)
		if len(excerpt) > 300 {
			excerpt = excerpt[:300] + "..."
		}
		return &APIError{Status: resp.StatusCode, Body: excerpt}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// calculateBackoff computes exponential backoff with +/- 25% jitter so
// concurrent workers don't retry in lockstep.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retry.BackoffMultiplier
	}
	backoff := time.Duration(float64(c.retry.BackoffBase) * multiplier)
	if backoff > c.retry.MaxBackoff {
		backoff = c.retry.MaxBackoff
	}
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// Wire types for the OpenAI-compatible API.
type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}
