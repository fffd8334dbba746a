package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultClientTimeout = 5 * time.Second

// ClientOption customises the notification client.
type ClientOption func(*Client)

// WithHTTPClient swaps the underlying HTTP client, primarily for tests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithClientTimeout overrides the request timeout.
func WithClientTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// Client posts notification messages to the notification service. Callers
// treat delivery as fire-and-forget: a failed dispatch is logged by the
// caller and never aborts the flow that triggered it.
type Client struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

// NewClient builds a notification client for the given base URL. The service
// token is sent on every request so the receiving side can authenticate its
// callers.
func NewClient(baseURL, serviceToken string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("notifications: base url is required")
	}
	if strings.TrimSpace(serviceToken) == "" {
		return nil, errors.New("notifications: service token is required")
	}

	client := &Client{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		httpClient:   &http.Client{Timeout: defaultClientTimeout},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Send posts the message to the notification service. Any non-2xx response
// is reported as an error so callers can log it.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if !ValidType(msg.Type) {
		return fmt.Errorf("notifications: unknown message type %q", msg.Type)
	}
	if strings.TrimSpace(msg.Recipient) == "" {
		return errors.New("notifications: recipient is required")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notifications: encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notifications: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ServiceTokenHeader, c.serviceToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notifications: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notifications: service returned %s", resp.Status)
	}

	return nil
}
