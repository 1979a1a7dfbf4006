package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionFulfillmentForward(t *testing.T) {
	assert.True(t, CanTransitionFulfillment(FulfillmentToPrepare, FulfillmentPreparing))
	assert.True(t, CanTransitionFulfillment(FulfillmentPreparing, FulfillmentReady))
	assert.True(t, CanTransitionFulfillment(FulfillmentReady, FulfillmentShipped))
	assert.True(t, CanTransitionFulfillment(FulfillmentShipped, FulfillmentDelivered))
}

func TestCanTransitionFulfillmentNoSkipping(t *testing.T) {
	assert.False(t, CanTransitionFulfillment(FulfillmentToPrepare, FulfillmentReady))
	assert.False(t, CanTransitionFulfillment(FulfillmentToPrepare, FulfillmentShipped))
	assert.False(t, CanTransitionFulfillment(FulfillmentPreparing, FulfillmentShipped))
}

func TestCanTransitionFulfillmentNoBackward(t *testing.T) {
	assert.False(t, CanTransitionFulfillment(FulfillmentPreparing, FulfillmentToPrepare))
	assert.False(t, CanTransitionFulfillment(FulfillmentReady, FulfillmentPreparing))
	assert.False(t, CanTransitionFulfillment(FulfillmentShipped, FulfillmentReady))
}

func TestCanTransitionFulfillmentCancel(t *testing.T) {
	assert.True(t, CanTransitionFulfillment(FulfillmentToPrepare, FulfillmentCancelled))
	assert.True(t, CanTransitionFulfillment(FulfillmentPreparing, FulfillmentCancelled))
	assert.True(t, CanTransitionFulfillment(FulfillmentReady, FulfillmentCancelled))
	assert.True(t, CanTransitionFulfillment(FulfillmentShipped, FulfillmentCancelled))
}

func TestCanTransitionFulfillmentTerminal(t *testing.T) {
	assert.False(t, CanTransitionFulfillment(FulfillmentDelivered, FulfillmentCancelled))
	assert.False(t, CanTransitionFulfillment(FulfillmentCancelled, FulfillmentPreparing))
	assert.False(t, CanTransitionFulfillment(FulfillmentCancelled, FulfillmentCancelled))
	assert.False(t, CanTransitionFulfillment(FulfillmentDelivered, FulfillmentDelivered))
}

func TestOrderStatusAfterFulfillment(t *testing.T) {
	assert.Equal(t, OrderStatus(""), OrderStatusAfterFulfillment(FulfillmentToPrepare))
	assert.Equal(t, OrderStatus(""), OrderStatusAfterFulfillment(FulfillmentPreparing))
	assert.Equal(t, OrderStatusProcessing, OrderStatusAfterFulfillment(FulfillmentReady))
	assert.Equal(t, OrderStatusShipped, OrderStatusAfterFulfillment(FulfillmentShipped))
	assert.Equal(t, OrderStatusDelivered, OrderStatusAfterFulfillment(FulfillmentDelivered))
	assert.Equal(t, OrderStatusCancelled, OrderStatusAfterFulfillment(FulfillmentCancelled))
}

func TestPaymentMethodValid(t *testing.T) {
	assert.True(t, PaymentMethodPayPal.Valid())
	assert.True(t, PaymentMethodStripe.Valid())
	assert.True(t, PaymentMethodBankTransfer.Valid())
	assert.True(t, PaymentMethodCashOnDelivery.Valid())
	assert.False(t, PaymentMethod("bitcoin").Valid())
	assert.False(t, PaymentMethod("").Valid())
}
