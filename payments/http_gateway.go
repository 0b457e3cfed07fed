package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type HTTPGatewayConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// httpGateway talks to the provider's REST API. Every mutating request
// carries a generated Idempotency-Key so provider-side retries are safe.
type httpGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(cfg HTTPGatewayConfig) (Gateway, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return nil, errors.New("invalid payment gateway configuration: base URL and API key are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &httpGateway{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (g *httpGateway) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	var session CheckoutSession
	if err := g.post(ctx, "/v1/checkout/sessions", params, &session); err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if session.SessionID == "" {
		return nil, errors.New("create checkout session: provider returned empty session id")
	}
	return &session, nil
}

func (g *httpGateway) Refund(ctx context.Context, providerRef string) (*RefundResult, error) {
	body := map[string]string{"provider_ref": providerRef}
	var result RefundResult
	if err := g.post(ctx, "/v1/refunds", body, &result); err != nil {
		return nil, fmt.Errorf("refund %s: %w", providerRef, err)
	}
	return &result, nil
}

func (g *httpGateway) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
