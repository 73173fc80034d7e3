package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"

	"toybox-api/database"
	"toybox-api/models"
	"toybox-api/queue"
	"toybox-api/services/payment/razorpay"
	"toybox-api/utils"
)

const webhookSignatureHeader = "X-Razorpay-Signature"

// WebhookHandler settles orders from gateway events. Every event may arrive more than once.
type WebhookHandler struct {
	checkout *CheckoutHandler
}

func NewWebhookHandler(checkout *CheckoutHandler) *WebhookHandler {
	return &WebhookHandler{checkout: checkout}
}

func (h *WebhookHandler) HandleRazorpay(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Printf("[RequestID: %s] Error reading webhook body: %v", requestID, err)
		utils.SendErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.checkout.payments.VerifyWebhookSignature(body, r.Header.Get(webhookSignatureHeader)); err != nil {
		log.Printf("[RequestID: %s] Webhook signature rejected from %s", requestID, r.RemoteAddr)
		utils.SendErrorResponse(w, http.StatusBadRequest, "Invalid webhook signature")
		return
	}

	var event razorpay.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("[RequestID: %s] Error decoding webhook: %v", requestID, err)
		utils.SendErrorResponse(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	log.Printf("[RequestID: %s] Webhook event %s", requestID, event.Event)

	var gatewayOrderID, paymentID string
	var paidAmount int64
	if event.Payload.Payment != nil {
		gatewayOrderID = event.Payload.Payment.Entity.OrderID
		paymentID = event.Payload.Payment.Entity.ID
		paidAmount = event.Payload.Payment.Entity.Amount
	}
	if event.Payload.Order != nil {
		if gatewayOrderID == "" {
			gatewayOrderID = event.Payload.Order.Entity.ID
		}
		if paidAmount == 0 {
			paidAmount = event.Payload.Order.Entity.AmountPaid
		}
	}

	switch event.Event {
	case razorpay.EventPaymentCaptured, razorpay.EventOrderPaid:
		h.settle(r, requestID, gatewayOrderID, paymentID, paidAmount)
	case razorpay.EventPaymentFailed:
		if gatewayOrderID != "" {
			if err := h.checkout.orders.MarkPaymentFailed(r.Context(), gatewayOrderID, paymentID); err != nil {
				log.Printf("[RequestID: %s] Failed to record failed payment for %s: %v", requestID, gatewayOrderID, err)
			}
		}
	default:
		log.Printf("[RequestID: %s] Ignoring webhook event %s", requestID, event.Event)
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Webhook processed",
	})
}

// settle marks the order paid. When that cannot be done right now the reconcile job takes
// over, so the gateway is still acknowledged and does not keep redelivering. A paid amount
// in paise that differs from the order total leaves the order unsettled.
func (h *WebhookHandler) settle(r *http.Request, requestID, gatewayOrderID, paymentID string, paidAmount int64) {
	if gatewayOrderID == "" {
		log.Printf("[RequestID: %s] Webhook without order id, nothing to settle", requestID)
		return
	}

	if paymentID == "" {
		h.enqueueReconcile(r, requestID, gatewayOrderID)
		return
	}

	if paidAmount != 0 {
		order, err := h.checkout.orders.GetOrderByGatewayID(r.Context(), gatewayOrderID)
		switch {
		case errors.Is(err, database.ErrNotFound):
			log.Printf("[RequestID: %s] Webhook for unknown gateway order %s", requestID, gatewayOrderID)
			return
		case err != nil:
			log.Printf("[RequestID: %s] Failed to load %s for webhook: %v", requestID, gatewayOrderID, err)
			h.enqueueReconcile(r, requestID, gatewayOrderID)
			return
		case paidAmount != utils.ToMinorUnits(order.Amount):
			log.Printf("[RequestID: %s] Warning: paid amount %.2f does not match order %s total %.2f, not settling",
				requestID, utils.FromMinorUnits(paidAmount), order.ID, order.Amount)
			return
		}
	}

	order, settled, err := h.checkout.orders.SettleOrderPayment(r.Context(), gatewayOrderID, paymentID, "")
	switch {
	case errors.Is(err, database.ErrNotFound):
		log.Printf("[RequestID: %s] Webhook for unknown gateway order %s", requestID, gatewayOrderID)
	case errors.Is(err, database.ErrInvalidTransition):
		log.Printf("[RequestID: %s] Gateway order %s no longer payable: %v", requestID, gatewayOrderID, err)
	case err != nil:
		log.Printf("[RequestID: %s] Failed to settle %s from webhook: %v", requestID, gatewayOrderID, err)
		h.enqueueReconcile(r, requestID, gatewayOrderID)
	case settled:
		log.Printf("[RequestID: %s] Order %s settled from webhook", requestID, order.ID)
		h.checkout.afterSettlement(r.Context(), requestID, order)
	}
}

func (h *WebhookHandler) enqueueReconcile(r *http.Request, requestID, gatewayOrderID string) {
	if err := h.checkout.jobs.Enqueue(r.Context(), queue.JobTypePaymentReconcile,
		map[string]interface{}{"gateway_order_id": gatewayOrderID}); err != nil {
		log.Printf("[RequestID: %s] Failed to enqueue reconcile for %s: %v", requestID, gatewayOrderID, err)
	}
}
