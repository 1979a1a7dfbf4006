// Package payment bridges orders to the external payment providers. Provider
// quirks stay behind the Gateway interface; nothing in here mutates order or
// payment state; callers apply the returned results.
package payment

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"storefront/config"
	"storefront/internal/models"
)

// InitiateResult is the outcome of starting a provider payment flow.
type InitiateResult struct {
	// RedirectURL is where the customer must be sent to approve the payment.
	RedirectURL string
	// TransactionID is the provider's payment/transaction identifier, if
	// assigned at initiation.
	TransactionID string
	// SessionID is the provider's checkout session identifier, if the
	// provider uses sessions.
	SessionID string
	// Raw is the provider response payload, kept for audit.
	Raw []byte
}

// ConfirmResult is the outcome of verifying a payment with the provider.
// Succeeded is only true after an independent provider round trip;
// client-supplied success flags are never trusted on their own.
type ConfirmResult struct {
	Succeeded     bool
	TransactionID string
	Reason        string
	Raw           []byte
}

// CallbackData carries the provider callback parameters (query params or
// webhook payload fields) into Confirm.
type CallbackData map[string]string

// Gateway is the provider-independent contract.
type Gateway interface {
	// Name returns the provider name, matching the payment method value.
	Name() string
	// Enabled reports whether the provider is configured. Initiate on a
	// disabled gateway returns ErrProviderUnavailable without any network
	// call.
	Enabled() bool
	// Initiate starts the provider flow for an order and returns the
	// redirect target plus the provider identifiers to persist.
	Initiate(ctx context.Context, order *models.Order, items []models.OrderItem, payment *models.Payment) (*InitiateResult, error)
	// Confirm verifies with the provider that the payment succeeded.
	Confirm(ctx context.Context, payment *models.Payment, callback CallbackData) (*ConfirmResult, error)
}

// Registry resolves gateways by payment method.
type Registry struct {
	gateways map[models.PaymentMethod]Gateway
}

// NewRegistry builds the gateway registry from provider configuration.
// returnBase is the public base URL redirect/cancel targets are built from.
func NewRegistry(cfg config.PaymentConfig, returnBase string) *Registry {
	client := &http.Client{Timeout: 15 * time.Second}
	return &Registry{
		gateways: map[models.PaymentMethod]Gateway{
			models.PaymentMethodPayPal: NewPayPalGateway(cfg.PayPal, returnBase, client),
			models.PaymentMethodStripe: NewStripeGateway(cfg.Stripe, returnBase, client),
		},
	}
}

// Gateway returns the gateway for an online payment method. Offline methods
// (bank transfer, cash on delivery) have no gateway.
func (r *Registry) Gateway(method models.PaymentMethod) (Gateway, error) {
	gw, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("method %s: %w", method, models.ErrProviderUnavailable)
	}
	return gw, nil
}

// FormatAmount renders cents as a decimal euro string, e.g. 2940 -> "29.40".
// Providers and mail templates share it so amounts always agree.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
