package payments

import "context"

// CheckoutSession is what the provider hands back for a new checkout; the
// session id doubles as the provider reference the webhook events carry.
type CheckoutSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type CheckoutParams struct {
	AmountMinor int64             `json:"amount_minor"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type RefundResult struct {
	Status string `json:"status"`
}

// Gateway is the payment provider port. Checkout and refunds run against the
// provider; completion/failure arrives asynchronously through webhook events.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	Refund(ctx context.Context, providerRef string) (*RefundResult, error)
}
