package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront/config"
	"storefront/internal/models"
	"storefront/internal/util"
)

// PayPalGateway drives the PayPal REST payments flow: create payment, send
// the customer to the approval URL, execute on return.
type PayPalGateway struct {
	cfg        config.PayPalConfig
	returnBase string
	client     *http.Client
}

// NewPayPalGateway creates a PayPal gateway.
func NewPayPalGateway(cfg config.PayPalConfig, returnBase string, client *http.Client) *PayPalGateway {
	return &PayPalGateway{cfg: cfg, returnBase: returnBase, client: client}
}

func (g *PayPalGateway) Name() string { return string(models.PaymentMethodPayPal) }

func (g *PayPalGateway) Enabled() bool { return g.cfg.Enabled }

func (g *PayPalGateway) accessToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.BaseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.cfg.ClientID, g.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal token request returned %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("paypal token response: %w", err)
	}
	return body.AccessToken, nil
}

func (g *PayPalGateway) postJSON(ctx context.Context, token, path string, payload interface{}) ([]byte, int, error) {
	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			return nil, 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, &buf)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("paypal call %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

// Initiate creates a PayPal payment mirroring the order's line snapshots and
// totals, and returns the approval URL the customer is redirected to.
func (g *PayPalGateway) Initiate(ctx context.Context, order *models.Order, items []models.OrderItem, _ *models.Payment) (*InitiateResult, error) {
	if !g.Enabled() {
		return nil, models.ErrProviderUnavailable
	}

	start := time.Now()
	defer func() {
		util.ProviderCallLatency.WithLabelValues(g.Name(), "initiate").Observe(time.Since(start).Seconds())
	}()

	token, err := g.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	type itemPayload struct {
		Name     string `json:"name"`
		SKU      string `json:"sku"`
		Price    string `json:"price"`
		Currency string `json:"currency"`
		Quantity int    `json:"quantity"`
	}
	lineItems := make([]itemPayload, 0, len(items))
	for _, item := range items {
		sku := item.ProductSKU
		if sku == "" {
			sku = "N/A"
		}
		lineItems = append(lineItems, itemPayload{
			Name:     item.ProductTitle,
			SKU:      sku,
			Price:    FormatAmount(item.UnitPrice),
			Currency: "EUR",
			Quantity: item.Quantity,
		})
	}

	payload := map[string]interface{}{
		"intent": "sale",
		"payer":  map[string]string{"payment_method": "paypal"},
		"redirect_urls": map[string]string{
			"return_url": fmt.Sprintf("%s/api/v1/payments/paypal/execute/%s", g.returnBase, order.OrderCode),
			"cancel_url": fmt.Sprintf("%s/api/v1/orders/%s", g.returnBase, order.OrderCode),
		},
		"transactions": []map[string]interface{}{{
			"item_list": map[string]interface{}{"items": lineItems},
			"amount": map[string]interface{}{
				"total":    FormatAmount(order.Total),
				"currency": "EUR",
				"details": map[string]string{
					"subtotal": FormatAmount(order.Subtotal),
					"tax":      FormatAmount(order.Tax),
					"shipping": FormatAmount(order.ShippingCost),
				},
			},
			"description": fmt.Sprintf("Order %s", order.OrderCode),
		}},
	}

	raw, status, err := g.postJSON(ctx, token, "/v1/payments/payment", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, fmt.Errorf("paypal create payment returned %d: %s", status, raw)
	}

	var created struct {
		ID    string `json:"id"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, fmt.Errorf("paypal create payment response: %w", err)
	}

	result := &InitiateResult{TransactionID: created.ID, Raw: raw}
	for _, link := range created.Links {
		if link.Rel == "approval_url" {
			result.RedirectURL = link.Href
		}
	}
	if result.RedirectURL == "" {
		return nil, fmt.Errorf("paypal payment %s has no approval url", created.ID)
	}
	return result, nil
}

// Confirm executes the approved PayPal payment. Success requires the provider
// to report state approved; the client-supplied callback params only identify
// which payment to execute.
func (g *PayPalGateway) Confirm(ctx context.Context, payment *models.Payment, callback CallbackData) (*ConfirmResult, error) {
	if !g.Enabled() {
		return nil, models.ErrProviderUnavailable
	}

	start := time.Now()
	defer func() {
		util.ProviderCallLatency.WithLabelValues(g.Name(), "confirm").Observe(time.Since(start).Seconds())
	}()

	paymentID := callback["paymentId"]
	payerID := callback["PayerID"]
	if paymentID == "" || payerID == "" {
		return &ConfirmResult{Succeeded: false, Reason: "missing callback parameters"}, nil
	}
	if payment.TransactionID.Valid && payment.TransactionID.String != paymentID {
		return &ConfirmResult{Succeeded: false, Reason: "callback payment id mismatch"}, nil
	}

	token, err := g.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/v1/payments/payment/%s/execute", url.PathEscape(paymentID))
	raw, status, err := g.postJSON(ctx, token, path, map[string]string{"payer_id": payerID})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return &ConfirmResult{Succeeded: false, Reason: fmt.Sprintf("paypal execute returned %d", status), Raw: raw}, nil
	}

	var executed struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(raw, &executed); err != nil {
		return nil, fmt.Errorf("paypal execute response: %w", err)
	}

	if executed.State != "approved" {
		return &ConfirmResult{Succeeded: false, Reason: "payment not approved: " + executed.State, Raw: raw}, nil
	}
	return &ConfirmResult{Succeeded: true, TransactionID: executed.ID, Raw: raw}, nil
}
