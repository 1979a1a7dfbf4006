package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/redisclient"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentStore is the persistence surface the payment service needs.
type PaymentStore interface {
	GetOrderByCode(ctx context.Context, orderCode string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	SetPaymentProviderRefs(ctx context.Context, paymentID int64, transactionID, sessionID string, raw []byte) error
	CompletePaymentTx(ctx context.Context, orderCode, transactionID string, raw []byte) (bool, *models.Payment, *models.Order, error)
	FailPayment(ctx context.Context, paymentID int64, raw []byte) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// PaymentPublisher publishes payment lifecycle events.
type PaymentPublisher interface {
	PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}

const paymentLockTTL = 30 * time.Second

// PaymentService drives the provider payment flows: initiation, callback
// confirmation and webhook confirmation. Success is only ever recorded after
// the provider itself confirmed it.
type PaymentService struct {
	store     PaymentStore
	gateways  *payment.Registry
	publisher PaymentPublisher
	locks     *redisclient.Client
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(store PaymentStore, gateways *payment.Registry, publisher PaymentPublisher, locks *redisclient.Client) *PaymentService {
	return &PaymentService{
		store:     store,
		gateways:  gateways,
		publisher: publisher,
		locks:     locks,
		logger:    util.GetLogger(),
	}
}

// InitiateOutcome is what starting a payment produced.
type InitiateOutcome struct {
	// RedirectURL is empty for offline methods (bank transfer, cash on
	// delivery); the order simply stays pending until staff settle it.
	RedirectURL string          `json:"redirect_url,omitempty"`
	Payment     *models.Payment `json:"payment"`
}

// InitiatePayment starts the provider flow for a pending order. When the
// provider is disabled or unreachable nothing is lost: the payment stays
// pending and initiation can be retried later.
func (ps *PaymentService) InitiatePayment(ctx context.Context, orderCode string) (*InitiateOutcome, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.InitiatePayment")
	defer span.End()

	order, err := ps.store.GetOrderByCode(ctx, orderCode)
	if err != nil {
		return nil, err
	}
	paymentRec, err := ps.store.GetPaymentByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if paymentRec.Status == models.PaymentStatusCompleted {
		return nil, fmt.Errorf("payment already completed: %w", models.ErrAlreadyExists)
	}

	switch paymentRec.Method {
	case models.PaymentMethodBankTransfer, models.PaymentMethodCashOnDelivery:
		return &InitiateOutcome{Payment: paymentRec}, nil
	}

	gw, err := ps.gateways.Gateway(paymentRec.Method)
	if err != nil {
		return nil, err
	}

	items, err := ps.store.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	result, err := gw.Initiate(ctx, order, items, paymentRec)
	if err != nil {
		ps.logger.Warn("Payment initiation failed",
			zap.String("order_code", orderCode),
			zap.String("provider", gw.Name()),
			zap.Error(err))
		return nil, fmt.Errorf("initiate %s payment: %w", gw.Name(), err)
	}

	if err := ps.store.SetPaymentProviderRefs(ctx, paymentRec.ID, result.TransactionID, result.SessionID, result.Raw); err != nil {
		return nil, err
	}

	util.PaymentsInitiatedTotal.WithLabelValues(gw.Name()).Inc()
	ps.logger.Info("Payment initiated",
		zap.String("order_code", orderCode),
		zap.String("provider", gw.Name()))

	refreshed, err := ps.store.GetPaymentByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &InitiateOutcome{RedirectURL: result.RedirectURL, Payment: refreshed}, nil
}

// ConfirmOutcome reports what a confirmation attempt did.
type ConfirmOutcome struct {
	Succeeded bool `json:"succeeded"`
	// AlreadyCompleted means this was a replay of an earlier success; the
	// order was not touched again.
	AlreadyCompleted bool            `json:"already_completed"`
	Reason           string          `json:"reason,omitempty"`
	Order            *models.Order   `json:"order"`
	Payment          *models.Payment `json:"payment"`
}

// ConfirmPayment handles the provider return callback. It serializes per
// order with a distributed lock, verifies the outcome with the provider and
// records it at most once; replays see the already-completed state.
func (ps *PaymentService) ConfirmPayment(ctx context.Context, orderCode string, callback payment.CallbackData) (*ConfirmOutcome, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ConfirmPayment")
	defer span.End()

	if ps.locks != nil {
		token := uuid.New().String()
		key := "payment:confirm:" + orderCode
		acquired, err := ps.locks.AcquireLock(ctx, key, token, paymentLockTTL)
		if err != nil {
			ps.logger.Warn("Payment lock unavailable, proceeding on row locks",
				zap.String("order_code", orderCode), zap.Error(err))
		} else if !acquired {
			return nil, fmt.Errorf("payment confirmation already in progress for %s", orderCode)
		} else {
			defer func() {
				if err := ps.locks.ReleaseLock(context.Background(), key, token); err != nil {
					ps.logger.Warn("Failed to release payment lock", zap.Error(err))
				}
			}()
		}
	}

	order, err := ps.store.GetOrderByCode(ctx, orderCode)
	if err != nil {
		return nil, err
	}
	paymentRec, err := ps.store.GetPaymentByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if paymentRec.Status == models.PaymentStatusCompleted {
		return &ConfirmOutcome{Succeeded: true, AlreadyCompleted: true, Order: order, Payment: paymentRec}, nil
	}

	gw, err := ps.gateways.Gateway(paymentRec.Method)
	if err != nil {
		return nil, err
	}

	result, err := gw.Confirm(ctx, paymentRec, callback)
	if err != nil {
		return nil, fmt.Errorf("confirm %s payment: %w", gw.Name(), err)
	}

	if !result.Succeeded {
		return ps.recordFailure(ctx, order, paymentRec, gw.Name(), result)
	}
	return ps.recordSuccess(ctx, orderCode, gw.Name(), result.TransactionID, result.Raw)
}

func (ps *PaymentService) recordFailure(ctx context.Context, order *models.Order, paymentRec *models.Payment, provider string, result *payment.ConfirmResult) (*ConfirmOutcome, error) {
	if err := ps.store.FailPayment(ctx, paymentRec.ID, result.Raw); err != nil {
		return nil, err
	}
	util.PaymentsFailedTotal.WithLabelValues(provider, "provider_declined").Inc()
	ps.logger.Info("Payment failed",
		zap.String("order_code", order.OrderCode),
		zap.String("provider", provider),
		zap.String("reason", result.Reason))

	event := &models.PaymentFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentFailed,
			Timestamp: time.Now(),
		},
		OrderCode:   order.OrderCode,
		PaymentCode: paymentRec.PaymentCode,
		Reason:      result.Reason,
	}
	if err := ps.publisher.PublishPaymentFailed(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
	}

	paymentRec.Status = models.PaymentStatusFailed
	return &ConfirmOutcome{Succeeded: false, Reason: result.Reason, Order: order, Payment: paymentRec}, nil
}

func (ps *PaymentService) recordSuccess(ctx context.Context, orderCode, provider, transactionID string, raw []byte) (*ConfirmOutcome, error) {
	completedNow, paymentRec, order, err := ps.store.CompletePaymentTx(ctx, orderCode, transactionID, raw)
	if err != nil {
		return nil, err
	}
	if !completedNow {
		return &ConfirmOutcome{Succeeded: true, AlreadyCompleted: true, Order: order, Payment: paymentRec}, nil
	}

	util.PaymentsCompletedTotal.WithLabelValues(provider).Inc()
	ps.logger.Info("Payment completed",
		zap.String("order_code", orderCode),
		zap.String("provider", provider),
		zap.String("transaction_id", transactionID))

	event := &models.PaymentCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentCompleted,
			Timestamp: time.Now(),
		},
		OrderCode:     order.OrderCode,
		PaymentCode:   paymentRec.PaymentCode,
		Amount:        paymentRec.Amount,
		TransactionID: transactionID,
		Email:         order.Email,
	}
	if err := ps.publisher.PublishPaymentCompleted(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentCompleted event", zap.Error(err))
	}

	return &ConfirmOutcome{Succeeded: true, Order: order, Payment: paymentRec}, nil
}

// WebhookOutcome reports how a webhook delivery was handled.
type WebhookOutcome struct {
	// Handled is false when the event type is irrelevant, the order is
	// unknown, or the event was a duplicate. Such deliveries are
	// acknowledged, not retried.
	Handled bool
	Detail  string
}

// HandleStripeWebhook processes a signature-verified webhook event. The
// caller has already checked the signature; malformed or unknown payloads are
// acknowledged without effect so the provider does not retry them forever.
func (ps *PaymentService) HandleStripeWebhook(ctx context.Context, event *payment.WebhookEvent) (*WebhookOutcome, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleStripeWebhook")
	defer span.End()

	if event.ID != "" {
		processed, err := ps.store.IsEventProcessed(ctx, event.ID)
		if err != nil {
			return nil, err
		}
		if processed {
			util.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
			return &WebhookOutcome{Handled: false, Detail: "duplicate event"}, nil
		}
	}

	if event.Type != "checkout.session.completed" {
		util.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		return &WebhookOutcome{Handled: false, Detail: "event type ignored"}, nil
	}

	orderCode := event.Data.Object.Metadata["order_code"]
	if orderCode == "" {
		util.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		return &WebhookOutcome{Handled: false, Detail: "no order_code metadata"}, nil
	}

	callback := payment.CallbackData{"session_id": event.Data.Object.ID}
	outcome, err := ps.ConfirmPayment(ctx, orderCode, callback)
	if errors.Is(err, models.ErrNotFound) {
		util.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		ps.logger.Warn("Webhook references unknown order", zap.String("order_code", orderCode))
		return &WebhookOutcome{Handled: false, Detail: "unknown order"}, nil
	}
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if event.ID != "" {
		if err := ps.store.MarkEventProcessed(ctx, event.ID, event.Type); err != nil {
			ps.logger.Warn("Failed to mark webhook event processed", zap.Error(err))
		}
	}

	util.WebhookEventsTotal.WithLabelValues("processed").Inc()
	detail := "payment completed"
	if outcome.AlreadyCompleted {
		detail = "already completed"
	} else if !outcome.Succeeded {
		detail = "payment not completed: " + outcome.Reason
	}
	return &WebhookOutcome{Handled: true, Detail: detail}, nil
}
