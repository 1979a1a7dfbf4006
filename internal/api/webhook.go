package api

import (
	"io"
	"net/http"
	"time"

	"storefront/internal/payment"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// stripeWebhook receives asynchronous payment notifications. The signature
// is checked before anything else; a bad signature is rejected, while
// irrelevant or unknown events are acknowledged with 200 so the provider
// stops redelivering them.
func (h *Handler) stripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}

	sig := c.GetHeader("Stripe-Signature")
	if err := payment.VerifyWebhookSignature(h.webhookSecret, sig, body, payment.DefaultSignatureTolerance, time.Now()); err != nil {
		util.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		util.GetLogger().Warn("Webhook signature rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	event, err := payment.ParseWebhookEvent(body)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("malformed").Inc()
		util.GetLogger().Warn("Malformed webhook payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed payload"})
		return
	}

	outcome, err := h.paymentService.HandleStripeWebhook(c.Request.Context(), event)
	if err != nil {
		// transient failure, let the provider retry the delivery
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "handled": outcome.Handled, "detail": outcome.Detail})
}
