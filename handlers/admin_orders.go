package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"toybox-api/models"
	"toybox-api/utils"
)

type AdminOrderStore interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error)
	UpdateOrderStatus(ctx context.Context, id string, next models.OrderStatus) (*models.Order, error)
}

// AdminOrderHandler exposes every order to the back office. Orders are never deleted; they
// only move through their lifecycle.
type AdminOrderHandler struct {
	store AdminOrderStore
}

func NewAdminOrderHandler(store AdminOrderStore) *AdminOrderHandler {
	return &AdminOrderHandler{store: store}
}

func (h *AdminOrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := models.OrderFilter{
		Status: models.OrderStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		utils.SendErrorResponse(w, http.StatusBadRequest, "Unknown order status")
		return
	}
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			utils.SendErrorResponse(w, http.StatusBadRequest, "Invalid user_id")
			return
		}
		filter.UserID = userID
	}

	orders, total, err := h.store.ListOrders(r.Context(), filter)
	if err != nil {
		sendStoreError(w, "list orders", err)
		return
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

func (h *AdminOrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.store.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		sendStoreError(w, "get order", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Order retrieved",
		Data:    order,
	})
}

func (h *AdminOrderHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.OrderStatusUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Status.IsValid() {
		utils.SendErrorResponse(w, http.StatusBadRequest, "Unknown order status")
		return
	}

	order, err := h.store.UpdateOrderStatus(r.Context(), id, req.Status)
	if err != nil {
		sendStoreError(w, "update order status", err)
		return
	}

	log.Printf("Admin %s moved order %s to %s", adminName(r), id, req.Status)
	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Order status updated",
		Data:    order,
	})
}
