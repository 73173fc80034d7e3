package handlers

import (
	"errors"
	"net/http"

	"toybox-api/database"
	"toybox-api/middleware"
	"toybox-api/models"
	"toybox-api/services/cartsync"
	"toybox-api/services/pricing"
	"toybox-api/utils"
)

// CartBackends opens the cart store for one user.
type CartBackends func(userID int64) cartsync.Backend

type CartHandler struct {
	backends   CartBackends
	plans      PlanStore
	session    *PlanSession
	calculator *pricing.Calculator
}

func NewCartHandler(backends CartBackends, plans PlanStore, session *PlanSession, calculator *pricing.Calculator) *CartHandler {
	return &CartHandler{
		backends:   backends,
		plans:      plans,
		session:    session,
		calculator: calculator,
	}
}

// loadCart builds the request's cart cache with the session plan applied.
func (h *CartHandler) loadCart(r *http.Request) (*cartsync.Cache, error) {
	user := middleware.GetUserFromContext(r.Context())
	cache := cartsync.NewCache(h.backends(user.ID), h.calculator)
	if err := cache.Load(r.Context()); err != nil {
		return nil, err
	}

	plan, err := selectedPlan(r, h.session, h.plans)
	if err != nil {
		return nil, err
	}
	if plan != nil {
		cache.SelectPlan(plan)
	}
	return cache, nil
}

func sendCartError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, database.ErrNotFound) {
		utils.SendErrorResponse(w, http.StatusNotFound, "Toy not found")
		return
	}
	sendStoreError(w, op, err)
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cache, err := h.loadCart(r)
	if err != nil {
		sendStoreError(w, "load cart", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Cart retrieved",
		Data:    cache.Response(),
	})
}

func (h *CartHandler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req models.CartAdd
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ToyID <= 0 {
		utils.SendErrorResponse(w, http.StatusBadRequest, "toy_id is required")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 {
		utils.SendErrorResponse(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	cache, err := h.loadCart(r)
	if err != nil {
		sendStoreError(w, "load cart", err)
		return
	}
	if err := cache.Add(r.Context(), req.ToyID, req.Quantity); err != nil {
		sendCartError(w, "add to cart", err)
		return
	}

	utils.SendResponse(w, http.StatusCreated, models.APIResponse{
		Status:  "success",
		Message: "Item added to cart",
		Data:    cache.Response(),
	})
}

func (h *CartHandler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	toyID, ok := pathID(w, r, "toyId")
	if !ok {
		return
	}

	var req models.CartUpdate
	if !decodeJSON(w, r, &req) {
		return
	}

	cache, err := h.loadCart(r)
	if err != nil {
		sendStoreError(w, "load cart", err)
		return
	}
	if err := cache.UpdateQuantity(r.Context(), toyID, req.Quantity); err != nil {
		sendCartError(w, "update cart", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Cart updated",
		Data:    cache.Response(),
	})
}

func (h *CartHandler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	toyID, ok := pathID(w, r, "toyId")
	if !ok {
		return
	}

	cache, err := h.loadCart(r)
	if err != nil {
		sendStoreError(w, "load cart", err)
		return
	}
	if err := cache.Remove(r.Context(), toyID); err != nil {
		sendCartError(w, "remove from cart", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Item removed from cart",
		Data:    cache.Response(),
	})
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	cache, err := h.loadCart(r)
	if err != nil {
		sendStoreError(w, "load cart", err)
		return
	}
	if err := cache.Clear(r.Context()); err != nil {
		sendStoreError(w, "clear cart", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Cart cleared",
		Data:    cache.Response(),
	})
}
