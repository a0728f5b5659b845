package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clinic/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// client is a thin JSON-over-HTTP client shared by the gateway
// executors. Transient channel failures (network errors, 5xx) are
// retried with backoff up to maxRetries attempts; declines are never
// retried.
type client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
	logger     *zap.Logger
}

func newClient(baseURL, apiKey string, timeout time.Duration, maxRetries int, logger *zap.Logger) *client {
	return &client{
		http:       &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

func (c *client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode gateway request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return shared.NewTransientError("PAYMENT_DECLINED", "gateway call cancelled")
			case <-time.After(backoff(attempt)):
			}
		}

		lastErr = c.doOnce(ctx, path, body, out)
		if lastErr == nil || !shared.IsTransientError(lastErr) {
			return lastErr
		}
		c.logger.Warn("gateway call failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return lastErr
}

func (c *client) doOnce(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return shared.NewTransientError("PAYMENT_DECLINED",
			fmt.Sprintf("gateway unreachable: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return shared.NewTransientError("PAYMENT_DECLINED", "failed to read gateway response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
		return nil
	case resp.StatusCode >= 500:
		return shared.NewTransientError("PAYMENT_DECLINED",
			fmt.Sprintf("gateway error: status %d", resp.StatusCode))
	default:
		// 4xx: the channel rejected the operation. Surface the
		// gateway's own message when it sent one.
		msg := declineMessage(respBody)
		return shared.NewDomainError("PAYMENT_DECLINED", msg)
	}
}

func declineMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return "payment declined by gateway"
}

func backoff(attempt int) time.Duration {
	return time.Duration(attempt) * 500 * time.Millisecond
}
