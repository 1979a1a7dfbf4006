package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront/config"
	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStripeTestGateway(t *testing.T, handler http.Handler) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewStripeGateway(config.StripeConfig{
		Enabled:   true,
		SecretKey: "sk_test_123",
		BaseURL:   srv.URL,
	}, "https://shop.example.com", srv.Client())
}

func TestStripeInitiateDisabled(t *testing.T) {
	g := NewStripeGateway(config.StripeConfig{Enabled: false}, "", http.DefaultClient)

	_, err := g.Initiate(context.Background(), &models.Order{}, nil, nil)

	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}

func TestStripeInitiate(t *testing.T) {
	var gotForm map[string][]string
	g := newStripeTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		fmt.Fprint(w, `{"id":"cs_test_1","url":"https://checkout.stripe.com/pay/cs_test_1"}`)
	}))

	order := &models.Order{
		OrderCode:    "ORD-TESTTESTAA",
		Email:        "mario@example.com",
		Subtotal:     2000,
		ShippingCost: 500,
		Tax:          440,
		Total:        2940,
	}
	items := []models.OrderItem{{ProductTitle: "Widget", ProductSKU: "WID-1", Quantity: 2, UnitPrice: 1000}}

	result, err := g.Initiate(context.Background(), order, items, nil)

	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/pay/cs_test_1", result.RedirectURL)
	assert.Equal(t, "cs_test_1", result.SessionID)

	assert.Equal(t, "ORD-TESTTESTAA", gotForm["metadata[order_code]"][0])
	assert.Equal(t, "Widget", gotForm["line_items[0][price_data][product_data][name]"][0])
	assert.Equal(t, "1000", gotForm["line_items[0][price_data][unit_amount]"][0])
	// shipping and VAT carried as their own lines
	assert.Equal(t, "Shipping", gotForm["line_items[1][price_data][product_data][name]"][0])
	assert.Equal(t, "VAT", gotForm["line_items[2][price_data][product_data][name]"][0])
}

func TestStripeConfirmPaid(t *testing.T) {
	g := newStripeTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions/cs_test_1", r.URL.Path)
		fmt.Fprint(w, `{"id":"cs_test_1","payment_status":"paid","payment_intent":"pi_123"}`)
	}))

	payment := &models.Payment{ProviderSessionID: sql.NullString{String: "cs_test_1", Valid: true}}
	result, err := g.Confirm(context.Background(), payment, CallbackData{"session_id": "cs_test_1"})

	require.NoError(t, err)
	assert.True(t, result.Succeeded)
	assert.Equal(t, "pi_123", result.TransactionID)
}

func TestStripeConfirmUnpaid(t *testing.T) {
	g := newStripeTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"cs_test_1","payment_status":"unpaid"}`)
	}))

	payment := &models.Payment{ProviderSessionID: sql.NullString{String: "cs_test_1", Valid: true}}
	result, err := g.Confirm(context.Background(), payment, CallbackData{})

	require.NoError(t, err)
	assert.False(t, result.Succeeded)
	assert.Contains(t, result.Reason, "not paid")
}

func TestStripeConfirmSessionMismatch(t *testing.T) {
	g := newStripeTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("provider must not be called on a session mismatch")
	}))

	payment := &models.Payment{ProviderSessionID: sql.NullString{String: "cs_test_1", Valid: true}}
	result, err := g.Confirm(context.Background(), payment, CallbackData{"session_id": "cs_forged"})

	require.NoError(t, err)
	assert.False(t, result.Succeeded)
	assert.Contains(t, result.Reason, "mismatch")
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	now := time.Now()

	sig := ComputeWebhookSignature(secret, now, payload)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), sig)

	assert.NoError(t, VerifyWebhookSignature(secret, header, payload, DefaultSignatureTolerance, now))
}

func TestVerifyWebhookSignatureTampered(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Now()

	sig := ComputeWebhookSignature(secret, now, payload)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), sig)

	err := VerifyWebhookSignature(secret, header, []byte(`{"id":"evt_2"}`), DefaultSignatureTolerance, now)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyWebhookSignatureStale(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{}`)
	signed := time.Now().Add(-10 * time.Minute)

	sig := ComputeWebhookSignature(secret, signed, payload)
	header := fmt.Sprintf("t=%d,v1=%s", signed.Unix(), sig)

	err := VerifyWebhookSignature(secret, header, payload, DefaultSignatureTolerance, time.Now())
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyWebhookSignatureMalformedHeader(t *testing.T) {
	for _, header := range []string{"", "t=abc,v1=deadbeef", "v1=deadbeef", "t=12345"} {
		err := VerifyWebhookSignature("whsec_test", header, []byte(`{}`), DefaultSignatureTolerance, time.Now())
		assert.ErrorIs(t, err, ErrInvalidSignature, "header %q", header)
	}
}

func TestVerifyWebhookSignatureMultipleV1(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{}`)
	now := time.Now()

	good := ComputeWebhookSignature(secret, now, payload)
	header := fmt.Sprintf("t=%d,v1=%s,v1=%s", now.Unix(), strings.Repeat("0", 64), good)

	assert.NoError(t, VerifyWebhookSignature(secret, header, payload, DefaultSignatureTolerance, now))
}

func TestParseWebhookEvent(t *testing.T) {
	body, err := json.Marshal(map[string]interface{}{
		"id":   "evt_1",
		"type": "checkout.session.completed",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":             "cs_test_1",
				"payment_status": "paid",
				"metadata":       map[string]string{"order_code": "ORD-TESTTESTAA"},
			},
		},
	})
	require.NoError(t, err)

	event, err := ParseWebhookEvent(body)

	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, "checkout.session.completed", event.Type)
	assert.Equal(t, "ORD-TESTTESTAA", event.Data.Object.Metadata["order_code"])
}

func TestParseWebhookEventMalformed(t *testing.T) {
	_, err := ParseWebhookEvent([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseWebhookEvent([]byte(`{}`))
	assert.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "29.40", FormatAmount(2940))
	assert.Equal(t, "0.05", FormatAmount(5))
	assert.Equal(t, "0.00", FormatAmount(0))
	assert.Equal(t, "100.00", FormatAmount(10000))
	assert.Equal(t, "-1.50", FormatAmount(-150))
}
