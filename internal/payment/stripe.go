package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storefront/config"
	"storefront/internal/models"
	"storefront/internal/util"
)

// StripeGateway drives the Stripe Checkout flow: create a checkout session,
// send the customer to the hosted page, confirm via session retrieval on
// return or via the signed webhook.
type StripeGateway struct {
	cfg        config.StripeConfig
	returnBase string
	client     *http.Client
}

// NewStripeGateway creates a Stripe gateway.
func NewStripeGateway(cfg config.StripeConfig, returnBase string, client *http.Client) *StripeGateway {
	return &StripeGateway{cfg: cfg, returnBase: returnBase, client: client}
}

func (g *StripeGateway) Name() string { return string(models.PaymentMethodStripe) }

func (g *StripeGateway) Enabled() bool { return g.cfg.Enabled }

// WebhookSecret exposes the signing secret for the webhook endpoint.
func (g *StripeGateway) WebhookSecret() string { return g.cfg.WebhookSecret }

func (g *StripeGateway) do(ctx context.Context, method, path string, form url.Values) ([]byte, int, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("stripe call %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

// Initiate creates a checkout session from the order's line snapshots.
// Shipping is added as its own line when non-zero.
func (g *StripeGateway) Initiate(ctx context.Context, order *models.Order, items []models.OrderItem, _ *models.Payment) (*InitiateResult, error) {
	if !g.Enabled() {
		return nil, models.ErrProviderUnavailable
	}

	start := time.Now()
	defer func() {
		util.ProviderCallLatency.WithLabelValues(g.Name(), "initiate").Observe(time.Since(start).Seconds())
	}()

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("success_url", fmt.Sprintf("%s/api/v1/payments/stripe/success/%s?session_id={CHECKOUT_SESSION_ID}", g.returnBase, order.OrderCode))
	form.Set("cancel_url", fmt.Sprintf("%s/api/v1/orders/%s", g.returnBase, order.OrderCode))
	form.Set("customer_email", order.Email)
	form.Set("metadata[order_code]", order.OrderCode)

	idx := 0
	addLine := func(name string, unitAmount int64, quantity int) {
		prefix := fmt.Sprintf("line_items[%d]", idx)
		form.Set(prefix+"[price_data][currency]", "eur")
		form.Set(prefix+"[price_data][product_data][name]", name)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(unitAmount, 10))
		form.Set(prefix+"[quantity]", strconv.Itoa(quantity))
		idx++
	}
	for _, item := range items {
		addLine(item.ProductTitle, item.UnitPrice, item.Quantity)
	}
	if order.ShippingCost > 0 {
		addLine("Shipping", order.ShippingCost, 1)
	}
	if order.Tax > 0 {
		addLine("VAT", order.Tax, 1)
	}

	raw, status, err := g.do(ctx, http.MethodPost, "/v1/checkout/sessions", form)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("stripe create session returned %d: %s", status, raw)
	}

	var session struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("stripe session response: %w", err)
	}
	if session.URL == "" {
		return nil, fmt.Errorf("stripe session %s has no url", session.ID)
	}

	return &InitiateResult{RedirectURL: session.URL, SessionID: session.ID, Raw: raw}, nil
}

// Confirm retrieves the checkout session and succeeds only when the provider
// reports it paid. The session id comes from the callback but payment state
// is read from the provider, never from the client.
func (g *StripeGateway) Confirm(ctx context.Context, payment *models.Payment, callback CallbackData) (*ConfirmResult, error) {
	if !g.Enabled() {
		return nil, models.ErrProviderUnavailable
	}

	start := time.Now()
	defer func() {
		util.ProviderCallLatency.WithLabelValues(g.Name(), "confirm").Observe(time.Since(start).Seconds())
	}()

	sessionID := callback["session_id"]
	if sessionID == "" && payment.ProviderSessionID.Valid {
		sessionID = payment.ProviderSessionID.String
	}
	if sessionID == "" {
		return &ConfirmResult{Succeeded: false, Reason: "missing session id"}, nil
	}
	if payment.ProviderSessionID.Valid && payment.ProviderSessionID.String != sessionID {
		return &ConfirmResult{Succeeded: false, Reason: "callback session id mismatch"}, nil
	}

	raw, status, err := g.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return &ConfirmResult{Succeeded: false, Reason: fmt.Sprintf("stripe session lookup returned %d", status), Raw: raw}, nil
	}

	var session struct {
		ID            string `json:"id"`
		PaymentStatus string `json:"payment_status"`
		PaymentIntent string `json:"payment_intent"`
	}
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("stripe session response: %w", err)
	}

	if session.PaymentStatus != "paid" {
		return &ConfirmResult{Succeeded: false, Reason: "session not paid: " + session.PaymentStatus, Raw: raw}, nil
	}

	txID := session.PaymentIntent
	if txID == "" {
		txID = session.ID
	}
	return &ConfirmResult{Succeeded: true, TransactionID: txID, Raw: raw}, nil
}

// Webhook signature scheme: the signature header carries a timestamp and one
// or more HMAC-SHA256 signatures of "<timestamp>.<payload>", hex encoded, as
// "t=<ts>,v1=<sig>[,v1=<sig>...]".

// ErrInvalidSignature is returned for missing, malformed, stale or forged
// webhook signatures.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// DefaultSignatureTolerance bounds the age of a signed webhook payload.
const DefaultSignatureTolerance = 5 * time.Minute

// ComputeWebhookSignature signs a payload the way the provider does. Used by
// tests and local tooling.
func ComputeWebhookSignature(secret string, timestamp time.Time, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp.Unix())
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature validates the signature header against the payload.
// It fails closed on any parse problem and rejects timestamps outside the
// tolerance window to limit replay.
func VerifyWebhookSignature(secret, header string, payload []byte, tolerance time.Duration, now time.Time) error {
	if secret == "" || header == "" {
		return ErrInvalidSignature
	}

	var ts int64
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			ts = parsed
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return ErrInvalidSignature
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return ErrInvalidSignature
	}

	expected := ComputeWebhookSignature(secret, time.Unix(ts, 0), payload)
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// WebhookEvent is the parsed body of a provider webhook delivery.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string            `json:"id"`
			PaymentStatus string            `json:"payment_status"`
			PaymentIntent string            `json:"payment_intent"`
			Metadata      map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ParseWebhookEvent decodes a webhook payload.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("malformed webhook payload: missing type")
	}
	return &event, nil
}
