package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const sessionCookie = "cart_session"

// Handler contains HTTP handlers
type Handler struct {
	cartService        *service.CartService
	orderService       *service.OrderService
	paymentService     *service.PaymentService
	fulfillmentService *service.FulfillmentService
	webhookSecret      string
}

// NewHandler creates a new HTTP handler
func NewHandler(
	cartService *service.CartService,
	orderService *service.OrderService,
	paymentService *service.PaymentService,
	fulfillmentService *service.FulfillmentService,
	webhookSecret string,
) *Handler {
	return &Handler{
		cartService:        cartService,
		orderService:       orderService,
		paymentService:     paymentService,
		fulfillmentService: fulfillmentService,
		webhookSecret:      webhookSecret,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PATCH("/cart/items/:id", h.updateCartItem)
		v1.DELETE("/cart/items/:id", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)

		v1.POST("/checkout", h.checkout)
		v1.GET("/orders", h.listMyOrders)
		v1.GET("/orders/:code", h.getOrder)

		v1.POST("/orders/:code/pay", h.initiatePayment)
		v1.GET("/payments/:code/return", h.paymentReturn)
		v1.GET("/payments/:code/cancel", h.paymentCancel)

		v1.POST("/webhooks/stripe", h.stripeWebhook)
	}

	staff := v1.Group("/staff")
	staff.Use(requireStaff())
	{
		staff.GET("/dashboard", h.dashboard)
		staff.GET("/orders", h.listOrders)
		staff.GET("/orders/:code/worksheet", h.getWorksheet)
		staff.POST("/orders/:code/transition", h.transitionFulfillment)
		staff.POST("/orders/:code/items/:item_id/verify", h.verifyItem)
		staff.GET("/orders/:code/notes", h.listNotes)
		staff.POST("/orders/:code/notes", h.addNote)
		staff.POST("/orders/:code/delivery-note", h.createDeliveryNote)
		staff.GET("/orders/:code/delivery-note.pdf", h.deliveryNotePDF)
		staff.GET("/stock-movements", h.listStockMovements)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// cartOwner resolves the caller identity: an authenticated user id from the
// gateway header, or a guest session cookie minted on first contact.
func (h *Handler) cartOwner(c *gin.Context) service.CartOwner {
	if userID := headerInt64(c, "X-User-ID"); userID != 0 {
		return service.CartOwner{UserID: userID}
	}
	session, err := c.Cookie(sessionCookie)
	if err != nil || session == "" {
		session = uuid.New().String()
		c.SetCookie(sessionCookie, session, 30*24*3600, "/", "", false, true)
	}
	return service.CartOwner{SessionKey: session}
}

func headerInt64(c *gin.Context, name string) int64 {
	v, _ := strconv.ParseInt(c.GetHeader(name), 10, 64)
	return v
}

func (h *Handler) loadCart(c *gin.Context) (*models.Cart, bool) {
	cart, err := h.cartService.GetCart(c.Request.Context(), h.cartOwner(c))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return cart, true
}

func (h *Handler) getCart(c *gin.Context) {
	cart, ok := h.loadCart(c)
	if !ok {
		return
	}
	items, err := h.cartService.Items(c.Request.Context(), cart)
	if err != nil {
		respondError(c, err)
		return
	}
	totals, err := h.cartService.Summary(c.Request.Context(), cart)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cart":   cart,
		"items":  items,
		"totals": totals,
	})
}

type addItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,gt=0"`
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	cart, ok := h.loadCart(c)
	if !ok {
		return
	}
	item, err := h.cartService.AddItem(c.Request.Context(), cart, req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) updateCartItem(c *gin.Context) {
	itemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid item ID"})
		return
	}
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	cart, ok := h.loadCart(c)
	if !ok {
		return
	}
	if err := h.cartService.UpdateQuantity(c.Request.Context(), cart, itemID, req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	itemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid item ID"})
		return
	}
	cart, ok := h.loadCart(c)
	if !ok {
		return
	}
	if err := h.cartService.RemoveItem(c.Request.Context(), cart, itemID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) clearCart(c *gin.Context) {
	cart, ok := h.loadCart(c)
	if !ok {
		return
	}
	if err := h.cartService.Clear(c.Request.Context(), cart); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// checkout converts the caller's cart into an order.
func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	cart, ok := h.loadCart(c)
	if !ok {
		return
	}
	result, err := h.orderService.Checkout(c.Request.Context(), cart, headerInt64(c, "X-User-ID"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{
		"order":   result.Order,
		"items":   result.Items,
		"payment": result.Payment,
	}
	if result.Warning != "" {
		resp["warning"] = result.Warning
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) listMyOrders(c *gin.Context) {
	userID := headerInt64(c, "X-User-ID")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	orders, err := h.orderService.ListOrdersByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder returns an order by its code. Codes are unguessable, so knowing
// one is the guest's proof of ownership.
func (h *Handler) getOrder(c *gin.Context) {
	detail, err := h.orderService.GetOrderByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) initiatePayment(c *gin.Context) {
	outcome, err := h.paymentService.InitiatePayment(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// paymentReturn handles the provider redirect back after approval. Success is
// verified with the provider, never taken from the query string.
func (h *Handler) paymentReturn(c *gin.Context) {
	callback := payment.CallbackData{}
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			callback[key] = values[0]
		}
	}
	outcome, err := h.paymentService.ConfirmPayment(c.Request.Context(), c.Param("code"), callback)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// paymentCancel handles the provider cancel redirect. Nothing changes: the
// payment stays pending and can be retried.
func (h *Handler) paymentCancel(c *gin.Context) {
	detail, err := h.orderService.GetOrderByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "cancelled_by_customer",
		"order":   detail.Order,
		"payment": detail.Payment,
	})
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found", "details": err.Error()})
	case errors.Is(err, models.ErrMissingField),
		errors.Is(err, models.ErrInvalidPaymentMethod),
		errors.Is(err, models.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
	case errors.Is(err, models.ErrOutOfStock),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "Conflict", "details": err.Error()})
	case errors.Is(err, models.ErrProviderUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment provider unavailable", "details": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error", "details": err.Error()})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
