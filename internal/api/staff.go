package api

import (
	"net/http"
	"strconv"
	"time"

	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/store"

	"github.com/gin-gonic/gin"
)

// requireStaff gates the back-office routes. Authentication itself lives at
// the gateway; this only insists the staff identity header is present.
func requireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if headerInt64(c, "X-Staff-ID") == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Staff authentication required"})
			return
		}
		c.Next()
	}
}

func staffID(c *gin.Context) int64 {
	return headerInt64(c, "X-Staff-ID")
}

func (h *Handler) dashboard(c *gin.Context) {
	dash, err := h.orderService.GetDashboard(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dash)
}

func (h *Handler) listOrders(c *gin.Context) {
	filter := store.OrderFilter{
		Search:        c.Query("q"),
		Status:        models.OrderStatus(c.Query("status")),
		PaymentMethod: models.PaymentMethod(c.Query("payment_method")),
	}
	if from := c.Query("date_from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date_from, want YYYY-MM-DD"})
			return
		}
		filter.DateFrom = t
	}
	if to := c.Query("date_to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date_to, want YYYY-MM-DD"})
			return
		}
		filter.DateTo = t
	}
	if limit := c.Query("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}

	orders, err := h.orderService.ListOrders(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getWorksheet(c *gin.Context) {
	worksheet, err := h.fulfillmentService.GetWorksheet(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, worksheet)
}

type transitionRequest struct {
	Status models.FulfillmentStatus `json:"status" binding:"required"`
}

func (h *Handler) transitionFulfillment(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	fulfillment, err := h.fulfillmentService.Transition(c.Request.Context(), c.Param("code"), req.Status, staffID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, fulfillment)
}

type verifyItemRequest struct {
	Verified         bool   `json:"verified"`
	VerifiedQuantity int    `json:"verified_quantity"`
	Notes            string `json:"notes"`
}

func (h *Handler) verifyItem(c *gin.Context) {
	itemID, err := strconv.ParseInt(c.Param("item_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid item ID"})
		return
	}
	var req verifyItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	result, err := h.fulfillmentService.VerifyItem(c.Request.Context(), c.Param("code"), itemID,
		req.Verified, req.VerifiedQuantity, staffID(c), req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) listNotes(c *gin.Context) {
	detail, err := h.orderService.GetOrderByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	notes, err := h.orderService.ListNotes(c.Request.Context(), detail.Order.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": notes})
}

type addNoteRequest struct {
	Note        string `json:"note" binding:"required"`
	IsImportant bool   `json:"is_important"`
}

func (h *Handler) addNote(c *gin.Context) {
	var req addNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	note, err := h.orderService.AddNote(c.Request.Context(), c.Param("code"), staffID(c), req.Note, req.IsImportant)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *Handler) createDeliveryNote(c *gin.Context) {
	var req service.CreateDeliveryNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	note, err := h.fulfillmentService.CreateDeliveryNote(c.Request.Context(), c.Param("code"), staffID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *Handler) deliveryNotePDF(c *gin.Context) {
	pdf, note, err := h.fulfillmentService.RenderDeliveryNotePDF(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+note.NoteNumber+".pdf")
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (h *Handler) listStockMovements(c *gin.Context) {
	filter := store.StockMovementFilter{
		MovementType: models.MovementType(c.Query("type")),
	}
	if pid := c.Query("product_id"); pid != "" {
		filter.ProductID, _ = strconv.ParseInt(pid, 10, 64)
	}
	if oid := c.Query("order_id"); oid != "" {
		filter.OrderID, _ = strconv.ParseInt(oid, 10, 64)
	}
	if limit := c.Query("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}

	movements, err := h.orderService.ListStockMovements(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movements": movements})
}
