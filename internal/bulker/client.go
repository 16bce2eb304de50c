// Package bulker implements the HTTP client for the bulker destination
// builtin: it POSTs events to ${BULKER_URL}/post/<destinationId>.
package bulker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/arc-self/rotor/internal/model"
)

// Request is what the bulker destination builtin needs to deliver one event.
type Request struct {
	DestinationID string
	DataLayout    string
	Event         *model.Event
}

// Client posts events to the bulker HTTP service.
type Client struct {
	endpoint  string
	authToken string
	http      *http.Client
}

// New builds a Client targeting endpoint (BULKER_URL) authenticated with
// authToken (BULKER_AUTH_KEY).
func New(endpoint, authToken string) *Client {
	return &Client{
		endpoint:  endpoint,
		authToken: authToken,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Post delivers req.Event to the bulker. A 5xx response or network error is
// a transientErr (retryable); any other non-2xx is a permanent error.
func (c *Client) Post(ctx context.Context, req Request) error {
	body, err := json.Marshal(req.Event)
	if err != nil {
		return fmt.Errorf("bulker: marshal event: %w", err)
	}

	u := fmt.Sprintf("%s/post/%s?tableName=events", c.endpoint, url.PathEscape(req.DestinationID))
	if req.DataLayout != "" {
		u += "&dataLayout=" + url.QueryEscape(req.DataLayout)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bulker: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &transientErr{cause: fmt.Errorf("bulker: request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &transientErr{cause: fmt.Errorf("bulker: HTTP %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("bulker: HTTP %d", resp.StatusCode)
	}
	return nil
}

// transientErr marks an error as retryable.
type transientErr struct{ cause error }

func (e *transientErr) Error() string { return e.cause.Error() }
func (e *transientErr) Unwrap() error { return e.cause }

// IsTransient reports whether err originated from a 5xx response or a
// network-level failure talking to the bulker (or any destination client
// using the same convention).
func IsTransient(err error) bool {
	var t *transientErr
	return errors.As(err, &t)
}
