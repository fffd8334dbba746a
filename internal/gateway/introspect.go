package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/datapult/datapult/internal/middleware"
)

const defaultIntrospectTimeout = 5 * time.Second

// Introspection is the auth service's verdict on a bearer token.
type Introspection struct {
	Valid     bool   `json:"valid"`
	TokenType string `json:"token_type"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	Reason    string `json:"reason"`
}

// Introspector resolves a bearer token to an identity.
type Introspector interface {
	Introspect(ctx context.Context, token string) (Introspection, error)
}

// HTTPIntrospector calls the auth service's private validate endpoint. The
// endpoint is guarded by the shared service token, so the gateway presents it
// on every call.
type HTTPIntrospector struct {
	url          string
	serviceToken string
	client       *http.Client
}

// NewHTTPIntrospector builds an introspector that POSTs to the auth service
// at baseURL. A zero timeout falls back to the default.
func NewHTTPIntrospector(baseURL, serviceToken string, timeout time.Duration) *HTTPIntrospector {
	if timeout <= 0 {
		timeout = defaultIntrospectTimeout
	}
	return &HTTPIntrospector{
		url:          strings.TrimRight(baseURL, "/") + "/api/auth/validate",
		serviceToken: serviceToken,
		client:       &http.Client{Timeout: timeout},
	}
}

// Introspect validates the token against the auth service. Transport and
// protocol failures return errors; a well-formed "invalid" verdict does not.
func (h *HTTPIntrospector) Introspect(ctx context.Context, token string) (Introspection, error) {
	payload, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return Introspection{}, fmt.Errorf("gateway: encode introspect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return Introspection{}, fmt.Errorf("gateway: build introspect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.ServiceTokenHeader, h.serviceToken)

	resp, err := h.client.Do(req)
	if err != nil {
		return Introspection{}, fmt.Errorf("gateway: introspect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Introspection{}, fmt.Errorf("gateway: introspect returned %s", resp.Status)
	}

	var envelope struct {
		Success bool          `json:"success"`
		Data    Introspection `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return Introspection{}, fmt.Errorf("gateway: decode introspect response: %w", err)
	}
	if !envelope.Success {
		return Introspection{}, fmt.Errorf("gateway: introspect rejected the request")
	}

	return envelope.Data, nil
}
