package worker

import (
	"context"
	"log"

	"storefront/internal/broker"
	"storefront/internal/mailer"
	"storefront/internal/models"
)

// EventDeduper remembers handled event ids so redelivered messages are not
// acted on twice.
type EventDeduper interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// MailWorker consumes order lifecycle events and sends the customer emails.
// Mail is best-effort: a send failure is logged and the message is still
// committed, it is never retried forever.
type MailWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	mailer       mailer.Mailer
	deduper      EventDeduper
}

// NewMailWorker creates a new mail worker
func NewMailWorker(consumer *broker.Consumer, m mailer.Mailer, deduper EventDeduper) *MailWorker {
	w := &MailWorker{
		consumer: consumer,
		mailer:   m,
		deduper:  deduper,
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPlaced(w.handleOrderPlaced)
	eventHandler.OnOrderShipped(w.handleOrderShipped)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *MailWorker) Start(ctx context.Context) error {
	log.Println("Starting mail worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *MailWorker) Stop() error {
	log.Println("Stopping mail worker...")
	return w.consumer.Close()
}

// seen reports whether the event was already handled; unknown on a dedupe
// store error, in which case we process anyway rather than drop mail.
func (w *MailWorker) seen(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return false
	}
	processed, err := w.deduper.IsEventProcessed(ctx, eventID)
	if err != nil {
		log.Printf("Dedupe lookup failed for event %s: %v", eventID, err)
		return false
	}
	return processed
}

func (w *MailWorker) markSeen(ctx context.Context, eventID, eventType string) {
	if eventID == "" {
		return
	}
	if err := w.deduper.MarkEventProcessed(ctx, eventID, eventType); err != nil {
		log.Printf("Failed to mark event %s processed: %v", eventID, err)
	}
}

func (w *MailWorker) handleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	if w.seen(ctx, event.EventID) {
		return nil
	}
	if err := w.mailer.SendOrderConfirmation(ctx, event); err != nil {
		log.Printf("Failed to send confirmation for order %s: %v", event.OrderCode, err)
		return nil
	}
	w.markSeen(ctx, event.EventID, event.EventType)
	log.Printf("Confirmation email sent for order %s", event.OrderCode)
	return nil
}

func (w *MailWorker) handleOrderShipped(ctx context.Context, event *models.OrderShippedEvent) error {
	if w.seen(ctx, event.EventID) {
		return nil
	}
	if err := w.mailer.SendShippedNotification(ctx, event); err != nil {
		log.Printf("Failed to send shipped notification for order %s: %v", event.OrderCode, err)
		return nil
	}
	w.markSeen(ctx, event.EventID, event.EventType)
	log.Printf("Shipped notification sent for order %s", event.OrderCode)
	return nil
}
