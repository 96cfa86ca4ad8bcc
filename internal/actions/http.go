package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxIntegrationResponse caps integration service response bodies.
const maxIntegrationResponse = 4 * 1024 * 1024 // 4MB

// defaultIntegrationTimeout bounds a single integration call when the
// caller's context carries no tighter deadline.
const defaultIntegrationTimeout = 30 * time.Second

// newIntegrationClient returns the HTTP client shared by integration
// actions.
func newIntegrationClient() *http.Client {
	return &http.Client{Timeout: defaultIntegrationTimeout}
}

// postJSON sends a JSON payload to an integration service and decodes
// the response into out (which may be nil). Failures come back as
// *Error values: non-2xx responses and transport errors are execution
// failures, a hit deadline is a timeout.
func postJSON(ctx context.Context, hc *http.Client, url, apiKey string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return NewConfigError(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return NewConfigError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return NewTimeoutError(err)
		}
		return NewExecutionError(0, "", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxIntegrationResponse))
	if err != nil {
		return NewExecutionError(0, "", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NewExecutionError(resp.StatusCode, string(respBody), nil)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return NewExecutionError(0, "", fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}
