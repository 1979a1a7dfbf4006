package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"storefront/config"
	"storefront/internal/models"
	"storefront/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stripeBackend fakes the provider: session creation plus a paid/unpaid
// session lookup.
func stripeBackend(t *testing.T, paid bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions" {
			fmt.Fprint(w, `{"id":"cs_test_1","url":"https://checkout.stripe.com/pay/cs_test_1"}`)
			return
		}
		status := "unpaid"
		if paid {
			status = "paid"
		}
		fmt.Fprintf(w, `{"id":"cs_test_1","payment_status":%q,"payment_intent":"pi_123"}`, status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testRegistry(baseURL string) *payment.Registry {
	return payment.NewRegistry(config.PaymentConfig{
		Stripe: config.StripeConfig{
			Enabled:   true,
			SecretKey: "sk_test_123",
			BaseURL:   baseURL,
		},
	}, "https://shop.example.com")
}

// placeOrder runs a full checkout and returns the order code.
func placeOrder(t *testing.T, f *fakeStore, method models.PaymentMethod) string {
	t.Helper()
	csvc := newTestCartService(f)
	osvc := NewOrderService(f, &fakePublisher{}, testPricer())
	cart := seedCart(t, f, csvc, 1000, 2)
	req := validCheckoutRequest()
	req.PaymentMethod = method
	result, err := osvc.Checkout(context.Background(), cart, 0, req)
	require.NoError(t, err)
	return result.Order.OrderCode
}

func TestInitiatePaymentStripe(t *testing.T) {
	f := newFakeStore()
	srv := stripeBackend(t, true)
	psvc := NewPaymentService(f, testRegistry(srv.URL), &fakePublisher{}, nil)
	code := placeOrder(t, f, models.PaymentMethodStripe)

	outcome, err := psvc.InitiatePayment(context.Background(), code)
	require.NoError(t, err)

	assert.Equal(t, "https://checkout.stripe.com/pay/cs_test_1", outcome.RedirectURL)
	assert.Equal(t, "cs_test_1", outcome.Payment.ProviderSessionID.String)
	assert.Equal(t, models.PaymentStatusPending, outcome.Payment.Status)
}

func TestInitiatePaymentOfflineMethod(t *testing.T) {
	f := newFakeStore()
	psvc := NewPaymentService(f, testRegistry("http://unused"), &fakePublisher{}, nil)
	code := placeOrder(t, f, models.PaymentMethodBankTransfer)

	outcome, err := psvc.InitiatePayment(context.Background(), code)
	require.NoError(t, err)

	assert.Empty(t, outcome.RedirectURL)
	assert.Equal(t, models.PaymentStatusPending, outcome.Payment.Status)
}

func TestInitiatePaymentProviderDisabled(t *testing.T) {
	f := newFakeStore()
	// registry without any enabled provider
	psvc := NewPaymentService(f, payment.NewRegistry(config.PaymentConfig{}, ""), &fakePublisher{}, nil)
	code := placeOrder(t, f, models.PaymentMethodStripe)

	_, err := psvc.InitiatePayment(context.Background(), code)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)

	// the order and payment stayed pending and retryable
	order, _ := f.GetOrderByCode(context.Background(), code)
	paymentRec, _ := f.GetPaymentByOrderID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, paymentRec.Status)
}

func TestConfirmPaymentSuccess(t *testing.T) {
	f := newFakeStore()
	srv := stripeBackend(t, true)
	pub := &fakePublisher{}
	psvc := NewPaymentService(f, testRegistry(srv.URL), pub, nil)
	code := placeOrder(t, f, models.PaymentMethodStripe)

	_, err := psvc.InitiatePayment(context.Background(), code)
	require.NoError(t, err)

	outcome, err := psvc.ConfirmPayment(context.Background(), code, payment.CallbackData{"session_id": "cs_test_1"})
	require.NoError(t, err)

	assert.True(t, outcome.Succeeded)
	assert.False(t, outcome.AlreadyCompleted)
	assert.Equal(t, models.PaymentStatusCompleted, outcome.Payment.Status)
	assert.Equal(t, "pi_123", outcome.Payment.TransactionID.String)
	assert.True(t, outcome.Payment.PaidAt.Valid)
	assert.Equal(t, models.OrderStatusProcessing, outcome.Order.Status)

	require.Len(t, pub.completed, 1)
	assert.Equal(t, code, pub.completed[0].OrderCode)
}

func TestConfirmPaymentReplayIsNoOp(t *testing.T) {
	f := newFakeStore()
	srv := stripeBackend(t, true)
	pub := &fakePublisher{}
	psvc := NewPaymentService(f, testRegistry(srv.URL), pub, nil)
	code := placeOrder(t, f, models.PaymentMethodStripe)

	_, err := psvc.InitiatePayment(context.Background(), code)
	require.NoError(t, err)

	callback := payment.CallbackData{"session_id": "cs_test_1"}
	first, err := psvc.ConfirmPayment(context.Background(), code, callback)
	require.NoError(t, err)
	require.True(t, first.Succeeded)

	second, err := psvc.ConfirmPayment(context.Background(), code, callback)
	require.NoError(t, err)
	assert.True(t, second.AlreadyCompleted)

	// completion recorded exactly once
	assert.Len(t, pub.completed, 1)
}

func TestConfirmPaymentDeclined(t *testing.T) {
	f := newFakeStore()
	srv := stripeBackend(t, false)
	pub := &fakePublisher{}
	psvc := NewPaymentService(f, testRegistry(srv.URL), pub, nil)
	code := placeOrder(t, f, models.PaymentMethodStripe)

	_, err := psvc.InitiatePayment(context.Background(), code)
	require.NoError(t, err)

	outcome, err := psvc.ConfirmPayment(context.Background(), code, payment.CallbackData{"session_id": "cs_test_1"})
	require.NoError(t, err)

	assert.False(t, outcome.Succeeded)
	assert.Equal(t, models.PaymentStatusFailed, outcome.Payment.Status)
	// the order itself is untouched on a failed payment
	assert.Equal(t, models.OrderStatusPending, outcome.Order.Status)
	assert.Len(t, pub.failed, 1)
	assert.Empty(t, pub.completed)
}

func webhookEvent(id, eventType, sessionID, orderCode string) *payment.WebhookEvent {
	event := &payment.WebhookEvent{ID: id, Type: eventType}
	event.Data.Object.ID = sessionID
	event.Data.Object.PaymentStatus = "paid"
	event.Data.Object.Metadata = map[string]string{"order_code": orderCode}
	return event
}

func TestHandleStripeWebhookCompletesPayment(t *testing.T) {
	f := newFakeStore()
	srv := stripeBackend(t, true)
	pub := &fakePublisher{}
	psvc := NewPaymentService(f, testRegistry(srv.URL), pub, nil)
	code := placeOrder(t, f, models.PaymentMethodStripe)

	_, err := psvc.InitiatePayment(context.Background(), code)
	require.NoError(t, err)

	outcome, err := psvc.HandleStripeWebhook(context.Background(),
		webhookEvent("evt_1", "checkout.session.completed", "cs_test_1", code))
	require.NoError(t, err)
	assert.True(t, outcome.Handled)

	order, _ := f.GetOrderByCode(context.Background(), code)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)
	assert.Len(t, pub.completed, 1)
}

func TestHandleStripeWebhookDuplicateEvent(t *testing.T) {
	f := newFakeStore()
	srv := stripeBackend(t, true)
	pub := &fakePublisher{}
	psvc := NewPaymentService(f, testRegistry(srv.URL), pub, nil)
	code := placeOrder(t, f, models.PaymentMethodStripe)

	_, err := psvc.InitiatePayment(context.Background(), code)
	require.NoError(t, err)

	event := webhookEvent("evt_1", "checkout.session.completed", "cs_test_1", code)
	_, err = psvc.HandleStripeWebhook(context.Background(), event)
	require.NoError(t, err)

	outcome, err := psvc.HandleStripeWebhook(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, outcome.Handled)
	assert.Equal(t, "duplicate event", outcome.Detail)
	assert.Len(t, pub.completed, 1)
}

func TestHandleStripeWebhookUnknownOrder(t *testing.T) {
	f := newFakeStore()
	srv := stripeBackend(t, true)
	psvc := NewPaymentService(f, testRegistry(srv.URL), &fakePublisher{}, nil)

	outcome, err := psvc.HandleStripeWebhook(context.Background(),
		webhookEvent("evt_2", "checkout.session.completed", "cs_test_1", "ORD-NOSUCHCODE"))

	require.NoError(t, err, "unknown orders are acknowledged, not retried")
	assert.False(t, outcome.Handled)
}

func TestHandleStripeWebhookIrrelevantType(t *testing.T) {
	f := newFakeStore()
	psvc := NewPaymentService(f, testRegistry("http://unused"), &fakePublisher{}, nil)

	outcome, err := psvc.HandleStripeWebhook(context.Background(),
		webhookEvent("evt_3", "invoice.created", "", ""))

	require.NoError(t, err)
	assert.False(t, outcome.Handled)
}
