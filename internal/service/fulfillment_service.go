package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FulfillmentStore is the persistence surface the fulfillment service needs.
type FulfillmentStore interface {
	GetOrderByCode(ctx context.Context, orderCode string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	EnsureFulfillment(ctx context.Context, orderID int64) (*models.OrderFulfillment, error)
	TransitionFulfillmentTx(ctx context.Context, orderID int64, to models.FulfillmentStatus, staffID int64) (*models.OrderFulfillment, *models.Order, error)
	VerifyItemTx(ctx context.Context, orderItemID int64, verified bool, verifiedQuantity int, staffID int64, notes string) (*store.VerifyItemResult, error)
	GetVerificationsByOrderID(ctx context.Context, orderID int64) (map[int64]models.OrderItemVerification, error)
	CreateDeliveryNote(ctx context.Context, note *models.DeliveryNote) error
	GetDeliveryNoteByOrderID(ctx context.Context, orderID int64) (*models.DeliveryNote, error)
	ListStockMovements(ctx context.Context, f store.StockMovementFilter) ([]models.StockMovement, error)
}

// FulfillmentPublisher publishes fulfillment lifecycle events.
type FulfillmentPublisher interface {
	PublishOrderShipped(ctx context.Context, event *models.OrderShippedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// NotePDFRenderer renders a delivery note document.
type NotePDFRenderer interface {
	RenderDeliveryNote(note *models.DeliveryNote, order *models.Order, items []models.OrderItem) ([]byte, error)
}

// FulfillmentService drives warehouse preparation: status transitions, the
// per-line verification checklist with its stock ledger side effects, and
// delivery notes.
type FulfillmentService struct {
	store     FulfillmentStore
	publisher FulfillmentPublisher
	renderer  NotePDFRenderer
	logger    *zap.Logger
}

// NewFulfillmentService creates a new fulfillment service
func NewFulfillmentService(store FulfillmentStore, publisher FulfillmentPublisher, renderer NotePDFRenderer) *FulfillmentService {
	return &FulfillmentService{
		store:     store,
		publisher: publisher,
		renderer:  renderer,
		logger:    util.GetLogger(),
	}
}

// WorksheetLine pairs an order line with its verification state.
type WorksheetLine struct {
	Item         models.OrderItem              `json:"item"`
	Verification *models.OrderItemVerification `json:"verification,omitempty"`
}

// Worksheet is the staff view of one order's preparation state.
type Worksheet struct {
	Order        *models.Order            `json:"order"`
	Fulfillment  *models.OrderFulfillment `json:"fulfillment"`
	Lines        []WorksheetLine          `json:"lines"`
	DeliveryNote *models.DeliveryNote     `json:"delivery_note,omitempty"`
	Movements    []models.StockMovement   `json:"movements"`
}

// GetWorksheet loads the preparation worksheet for an order, creating the
// fulfillment record on first access.
func (fs *FulfillmentService) GetWorksheet(ctx context.Context, orderCode string) (*Worksheet, error) {
	order, err := fs.store.GetOrderByCode(ctx, orderCode)
	if err != nil {
		return nil, err
	}
	fulfillment, err := fs.store.EnsureFulfillment(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	items, err := fs.store.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	verifications, err := fs.store.GetVerificationsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	lines := make([]WorksheetLine, 0, len(items))
	for _, item := range items {
		line := WorksheetLine{Item: item}
		if v, ok := verifications[item.ID]; ok {
			verification := v
			line.Verification = &verification
		}
		lines = append(lines, line)
	}

	deliveryNote, err := fs.store.GetDeliveryNoteByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	movements, err := fs.store.ListStockMovements(ctx, store.StockMovementFilter{OrderID: order.ID})
	if err != nil {
		return nil, err
	}

	return &Worksheet{
		Order:        order,
		Fulfillment:  fulfillment,
		Lines:        lines,
		DeliveryNote: deliveryNote,
		Movements:    movements,
	}, nil
}

// Transition moves an order's fulfillment to a new status. Illegal moves
// (backward, or out of a terminal state) fail with ErrInvalidTransition and
// leave everything untouched. Shipped and cancelled transitions publish
// their events after commit.
func (fs *FulfillmentService) Transition(ctx context.Context, orderCode string, to models.FulfillmentStatus, staffID int64) (*models.OrderFulfillment, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.Transition")
	defer span.End()

	order, err := fs.store.GetOrderByCode(ctx, orderCode)
	if err != nil {
		return nil, err
	}

	fulfillment, updatedOrder, err := fs.store.TransitionFulfillmentTx(ctx, order.ID, to, staffID)
	if err != nil {
		return nil, err
	}

	util.FulfillmentTransitionsTotal.WithLabelValues(string(to)).Inc()
	fs.logger.Info("Fulfillment transitioned",
		zap.String("order_code", orderCode),
		zap.String("to", string(to)),
		zap.Int64("staff_id", staffID))

	switch to {
	case models.FulfillmentShipped:
		fs.publishShipped(ctx, updatedOrder)
	case models.FulfillmentCancelled:
		fs.publishCancelled(ctx, updatedOrder)
	}

	return fulfillment, nil
}

func (fs *FulfillmentService) publishShipped(ctx context.Context, order *models.Order) {
	note, err := fs.store.GetDeliveryNoteByOrderID(ctx, order.ID)
	if err != nil {
		fs.logger.Warn("Failed to load delivery note for shipped event", zap.Error(err))
	}
	event := &models.OrderShippedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderShipped,
			Timestamp: time.Now(),
		},
		OrderCode: order.OrderCode,
		Email:     order.Email,
		FullName:  order.FullName,
	}
	if note != nil {
		event.Carrier = note.Carrier
		event.TrackingNumber = note.TrackingNumber
	}
	if err := fs.publisher.PublishOrderShipped(ctx, event); err != nil {
		fs.logger.Error("Failed to publish OrderShipped event",
			zap.String("order_code", order.OrderCode), zap.Error(err))
	}
}

func (fs *FulfillmentService) publishCancelled(ctx context.Context, order *models.Order) {
	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: time.Now(),
		},
		OrderCode: order.OrderCode,
	}
	if err := fs.publisher.PublishOrderCancelled(ctx, event); err != nil {
		fs.logger.Error("Failed to publish OrderCancelled event",
			zap.String("order_code", order.OrderCode), zap.Error(err))
	}
}

// VerifyItem records the warehouse check of one order line and applies the
// matching stock movement. Calling it again with the same quantity is a
// no-op; a changed quantity applies only the difference.
func (fs *FulfillmentService) VerifyItem(ctx context.Context, orderCode string, orderItemID int64, verified bool, verifiedQuantity int, staffID int64, notes string) (*store.VerifyItemResult, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.VerifyItem")
	defer span.End()

	if verifiedQuantity < 0 {
		return nil, fmt.Errorf("verified quantity must not be negative: %w", models.ErrMissingField)
	}

	result, err := fs.store.VerifyItemTx(ctx, orderItemID, verified, verifiedQuantity, staffID, notes)
	if err != nil {
		return nil, err
	}

	if result.Movement != nil {
		util.StockMovementsTotal.WithLabelValues(string(result.Movement.MovementType)).Inc()
		fs.logger.Info("Stock movement recorded",
			zap.String("order_code", orderCode),
			zap.String("type", string(result.Movement.MovementType)),
			zap.Int("quantity", result.Movement.Quantity),
			zap.Int("stock_after", result.Movement.StockAfter))
	}

	return result, nil
}

// CreateDeliveryNoteRequest carries the shipping paperwork fields.
type CreateDeliveryNoteRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	PackagesCount  int    `json:"packages_count"`
	Notes          string `json:"notes"`
}

// CreateDeliveryNote issues the numbered shipping document for an order. An
// order gets at most one; the number is sequential per year.
func (fs *FulfillmentService) CreateDeliveryNote(ctx context.Context, orderCode string, staffID int64, req *CreateDeliveryNoteRequest) (*models.DeliveryNote, error) {
	order, err := fs.store.GetOrderByCode(ctx, orderCode)
	if err != nil {
		return nil, err
	}

	packages := req.PackagesCount
	if packages < 1 {
		packages = 1
	}
	note := &models.DeliveryNote{
		OrderID:        order.ID,
		Carrier:        req.Carrier,
		TrackingNumber: req.TrackingNumber,
		PackagesCount:  packages,
		Notes:          req.Notes,
	}
	if staffID != 0 {
		note.CreatedBy.Int64 = staffID
		note.CreatedBy.Valid = true
	}
	if err := fs.store.CreateDeliveryNote(ctx, note); err != nil {
		return nil, err
	}

	fs.logger.Info("Delivery note created",
		zap.String("order_code", orderCode),
		zap.String("note_number", note.NoteNumber))
	return note, nil
}

// RenderDeliveryNotePDF produces the printable delivery note for an order.
func (fs *FulfillmentService) RenderDeliveryNotePDF(ctx context.Context, orderCode string) ([]byte, *models.DeliveryNote, error) {
	order, err := fs.store.GetOrderByCode(ctx, orderCode)
	if err != nil {
		return nil, nil, err
	}
	note, err := fs.store.GetDeliveryNoteByOrderID(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	if note == nil {
		return nil, nil, fmt.Errorf("delivery note: %w", models.ErrNotFound)
	}
	items, err := fs.store.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	pdf, err := fs.renderer.RenderDeliveryNote(note, order, items)
	if err != nil {
		return nil, nil, fmt.Errorf("render delivery note: %w", err)
	}
	return pdf, note, nil
}
