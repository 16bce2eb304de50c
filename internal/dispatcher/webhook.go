// Package dispatcher implements the destination-facing HTTP clients behind
// the builtin.destination.webhook and builtin.destination.email steps.
//
// Every outbound webhook:
//  1. Serialises the event as JSON.
//  2. Computes an HMAC-SHA256 signature using the connection's secret.
//  3. POSTs the payload with an X-Rotor-Signature header.
//  4. Classifies the response into retryable (5xx/network) vs. permanent
//     (4xx) for the chain executor's error taxonomy.
package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// IsTransient reports whether err is a retryable delivery failure.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// TransientError marks a webhook delivery failure as retryable.
type TransientError struct{ Cause error }

func (e *TransientError) Error() string { return e.Cause.Error() }
func (e *TransientError) Unwrap() error { return e.Cause }

// WebhookDispatcher delivers HMAC-signed event payloads to external endpoints.
type WebhookDispatcher struct {
	logger *zap.Logger
	client *http.Client
}

// NewWebhookDispatcher creates a WebhookDispatcher with a default 10s timeout.
func NewWebhookDispatcher(logger *zap.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Deliver sends a JSON payload to url, signed with the HMAC-SHA256 of secret.
func (d *WebhookDispatcher) Deliver(ctx context.Context, url, secret string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	sig := computeHMAC(secret, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Rotor-Signature", sig)

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("webhook delivery failed", zap.String("url", url), zap.Error(err))
		return &TransientError{Cause: fmt.Errorf("webhook delivery to %s: %w", url, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		d.logger.Warn("webhook 5xx response", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return &TransientError{Cause: fmt.Errorf("webhook delivery to %s: HTTP %d", url, resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		d.logger.Warn("webhook non-2xx response", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("webhook delivery to %s: HTTP %d", url, resp.StatusCode)
	}

	d.logger.Info("webhook delivered", zap.String("url", url), zap.Int("status", resp.StatusCode))
	return nil
}

// computeHMAC generates a hex-encoded HMAC-SHA256 of the body using the given secret.
func computeHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
