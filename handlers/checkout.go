package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"toybox-api/database"
	"toybox-api/middleware"
	"toybox-api/models"
	"toybox-api/queue"
	"toybox-api/services/payment"
	"toybox-api/services/payment/razorpay"
	"toybox-api/services/pricing"
	"toybox-api/utils"
)

// reconcileAfter is how long a pending order waits before the worker asks the gateway about it.
const reconcileAfter = 20 * time.Minute

type OrderStore interface {
	LockCheckout(ctx context.Context, checkoutID string) (bool, error)
	ReleaseLock(ctx context.Context, checkoutID string) error
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByGatewayID(ctx context.Context, gatewayOrderID string) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error)
	SettleOrderPayment(ctx context.Context, gatewayOrderID, paymentID, signature string) (*models.Order, bool, error)
	MarkPaymentFailed(ctx context.Context, gatewayOrderID, paymentID string) error
}

// PaymentProcessor is the part of payment.Service the HTTP layer uses.
type PaymentProcessor interface {
	KeyID() string
	Currency() string
	CreateOrder(ctx context.Context, amount decimal.Decimal, receipt string, notes map[string]string) (*razorpay.Order, error)
	VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) error
	VerifyWebhookSignature(body []byte, signature string) error
}

type JobQueue interface {
	Enqueue(ctx context.Context, jobType queue.JobType, data map[string]interface{}) error
	EnqueueDelayed(ctx context.Context, jobType queue.JobType, data map[string]interface{}, delay time.Duration) error
}

type CheckoutHandler struct {
	cart     *CartHandler
	orders   OrderStore
	payments PaymentProcessor
	jobs     JobQueue
}

func NewCheckoutHandler(cart *CartHandler, orders OrderStore, payments PaymentProcessor, jobs JobQueue) *CheckoutHandler {
	return &CheckoutHandler{
		cart:     cart,
		orders:   orders,
		payments: payments,
		jobs:     jobs,
	}
}

func validateAddress(a models.Address) string {
	switch {
	case strings.TrimSpace(a.FullName) == "":
		return "full_name is required"
	case strings.TrimSpace(a.Phone) == "":
		return "phone is required"
	case strings.TrimSpace(a.Line1) == "":
		return "line1 is required"
	case strings.TrimSpace(a.City) == "":
		return "city is required"
	case strings.TrimSpace(a.PostalCode) == "":
		return "postal_code is required"
	}
	return ""
}

func (h *CheckoutHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	user := middleware.GetUserFromContext(r.Context())
	log.Printf("[RequestID: %s] Starting checkout for user %d", requestID, user.ID)

	var req models.CheckoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if problem := validateAddress(req.ShippingAddress); problem != "" {
		utils.SendErrorResponse(w, http.StatusBadRequest, "Invalid shipping address: "+problem)
		return
	}
	billing := req.ShippingAddress
	if req.BillingAddress != nil {
		if problem := validateAddress(*req.BillingAddress); problem != "" {
			utils.SendErrorResponse(w, http.StatusBadRequest, "Invalid billing address: "+problem)
			return
		}
		billing = *req.BillingAddress
	}
	if req.ShippingAddress.Country == "" {
		req.ShippingAddress.Country = "IN"
	}
	if billing.Country == "" {
		billing.Country = "IN"
	}

	lockID := "user-" + strconv.FormatInt(user.ID, 10)
	acquired, err := h.orders.LockCheckout(r.Context(), lockID)
	if err != nil {
		log.Printf("[RequestID: %s] Error acquiring lock: %v", requestID, err)
		utils.SendErrorResponse(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !acquired {
		log.Printf("[RequestID: %s] Checkout already in progress for user %d", requestID, user.ID)
		utils.SendErrorResponse(w, http.StatusConflict, "A checkout is already in progress for this account")
		return
	}
	defer func() {
		if err := h.orders.ReleaseLock(context.Background(), lockID); err != nil {
			log.Printf("[RequestID: %s] Error releasing lock: %v", requestID, err)
		}
	}()

	cache, err := h.cart.loadCart(r)
	if err != nil {
		log.Printf("[RequestID: %s] Error loading cart: %v", requestID, err)
		sendStoreError(w, "load cart", err)
		return
	}
	if cache.IsEmpty() && cache.Plan() == nil {
		utils.SendErrorResponse(w, http.StatusBadRequest, "Cart is empty")
		return
	}

	total := cache.TotalPrice()
	if !pricing.IsPayable(total) {
		log.Printf("[RequestID: %s] Amount %s below minimum payable", requestID, total.StringFixed(2))
		utils.SendErrorResponse(w, http.StatusBadRequest,
			fmt.Sprintf("Order total must be at least %s %s", pricing.MinimumPayable.StringFixed(2), h.payments.Currency()))
		return
	}

	orderID := uuid.New().String()
	gatewayOrder, err := h.payments.CreateOrder(r.Context(), total, orderID, map[string]string{
		"user_id":    strconv.FormatInt(user.ID, 10),
		"request_id": requestID,
	})
	if err != nil {
		log.Printf("[RequestID: %s] Gateway order creation failed: %v", requestID, err)
		if errors.Is(err, payment.ErrAmountTooSmall) {
			utils.SendErrorResponse(w, http.StatusBadRequest, "Order total is below the payment minimum")
			return
		}
		utils.SendErrorResponse(w, http.StatusBadGateway, "Payment gateway is unavailable, please try again")
		return
	}

	breakdown := cache.Breakdown()
	order := &models.Order{
		ID:              orderID,
		UserID:          user.ID,
		Amount:          breakdown.Total,
		Currency:        h.payments.Currency(),
		Status:          models.OrderStatusPending,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  billing,
		Pricing:         breakdown,
		GatewayOrderID:  gatewayOrder.ID,
	}
	if plan := cache.Plan(); plan != nil {
		order.PlanID = &plan.ID
	}
	for _, item := range cache.Items() {
		line := models.OrderItem{OrderID: orderID, ToyID: item.ToyID, Quantity: item.Quantity}
		if item.Toy != nil {
			line.Name = item.Toy.Name
			line.UnitPrice = item.Toy.Price
		}
		order.Items = append(order.Items, line)
	}

	if err := h.orders.CreateOrder(r.Context(), order); err != nil {
		log.Printf("[RequestID: %s] Failed to save order for gateway order %s: %v", requestID, gatewayOrder.ID, err)
		sendStoreError(w, "create order", err)
		return
	}

	if err := h.jobs.EnqueueDelayed(r.Context(), queue.JobTypePaymentReconcile,
		map[string]interface{}{"gateway_order_id": gatewayOrder.ID}, reconcileAfter); err != nil {
		log.Printf("[RequestID: %s] Warning: failed to schedule reconcile: %v", requestID, err)
	}

	log.Printf("[RequestID: %s] Order %s created with gateway order %s for %s %s",
		requestID, orderID, gatewayOrder.ID, total.StringFixed(2), order.Currency)

	utils.SendResponse(w, http.StatusCreated, models.APIResponse{
		Status:  "success",
		Message: "Order created",
		Data: models.CheckoutOrderResponse{
			OrderID:        orderID,
			GatewayOrderID: gatewayOrder.ID,
			Amount:         gatewayOrder.Amount,
			Currency:       order.Currency,
			KeyID:          h.payments.KeyID(),
			Pricing:        breakdown,
		},
	})
}

func (h *CheckoutHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	user := middleware.GetUserFromContext(r.Context())

	var req models.PaymentVerification
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.Signature == "" {
		utils.SendErrorResponse(w, http.StatusBadRequest, "razorpay_order_id, razorpay_payment_id and razorpay_signature are required")
		return
	}

	log.Printf("[RequestID: %s] Verifying payment %s for gateway order %s", requestID, req.GatewayPaymentID, req.GatewayOrderID)

	order, err := h.orders.GetOrderByGatewayID(r.Context(), req.GatewayOrderID)
	if err != nil || order.UserID != user.ID {
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			sendStoreError(w, "verify payment", err)
			return
		}
		utils.SendErrorResponse(w, http.StatusNotFound, "Order not found")
		return
	}

	if err := h.payments.VerifyPaymentSignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature); err != nil {
		log.Printf("[RequestID: %s] Signature mismatch for gateway order %s", requestID, req.GatewayOrderID)
		if err := h.orders.MarkPaymentFailed(r.Context(), req.GatewayOrderID, req.GatewayPaymentID); err != nil {
			log.Printf("[RequestID: %s] Failed to mark order %s as payment_failed: %v", requestID, order.ID, err)
		}
		utils.SendErrorResponse(w, http.StatusBadRequest, "Payment verification failed: signature mismatch")
		return
	}

	settledOrder, settled, err := h.orders.SettleOrderPayment(r.Context(), req.GatewayOrderID, req.GatewayPaymentID, req.Signature)
	if err != nil {
		log.Printf("[RequestID: %s] Failed to settle order %s: %v", requestID, order.ID, err)
		sendStoreError(w, "settle payment", err)
		return
	}

	if settled {
		h.afterSettlement(r.Context(), requestID, settledOrder)
	}

	log.Printf("[RequestID: %s] Payment verified for order %s", requestID, settledOrder.ID)
	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Payment verified",
		Data:    settledOrder,
	})
}

// afterSettlement queues the follow-up work for a freshly paid order. Failures are logged
// only; the payment itself is already committed.
func (h *CheckoutHandler) afterSettlement(ctx context.Context, requestID string, order *models.Order) {
	if err := h.jobs.Enqueue(ctx, queue.JobTypeOrderConfirmation, map[string]interface{}{"order_id": order.ID}); err != nil {
		log.Printf("[RequestID: %s] Failed to enqueue confirmation for order %s: %v", requestID, order.ID, err)
	}
	if err := h.jobs.Enqueue(ctx, queue.JobTypeLowStockAlert, nil); err != nil {
		log.Printf("[RequestID: %s] Failed to enqueue low stock check: %v", requestID, err)
	}
}

func (h *CheckoutHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	orders, total, err := h.orders.ListOrders(r.Context(), models.OrderFilter{
		UserID: user.ID,
		Status: models.OrderStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		sendStoreError(w, "list orders", err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Orders retrieved",
		Data: map[string]interface{}{
			"orders": orders,
			"total":  total,
		},
	})
}

func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	order, err := h.orders.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil || order.UserID != user.ID {
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			sendStoreError(w, "get order", err)
			return
		}
		utils.SendErrorResponse(w, http.StatusNotFound, "Order not found")
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Order retrieved",
		Data:    order,
	})
}
