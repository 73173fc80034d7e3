package handlers

import (
	"context"
	"net/http"
	"strings"

	"toybox-api/middleware"
	"toybox-api/models"
	"toybox-api/utils"
)

const maxReviewLength = 2000

type WishlistStore interface {
	GetWishlist(ctx context.Context, userID int64) ([]models.WishlistItem, error)
	AddToWishlist(ctx context.Context, userID, toyID int64) error
	RemoveFromWishlist(ctx context.Context, userID, toyID int64) error
	ListReviews(ctx context.Context, toyID int64) ([]models.Review, error)
	SaveReview(ctx context.Context, review *models.Review) error
}

type WishlistHandler struct {
	store WishlistStore
}

func NewWishlistHandler(store WishlistStore) *WishlistHandler {
	return &WishlistHandler{store: store}
}

func (h *WishlistHandler) GetWishlist(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	items, err := h.store.GetWishlist(r.Context(), user.ID)
	if err != nil {
		sendStoreError(w, "get wishlist", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Wishlist retrieved",
		Data:    items,
	})
}

func (h *WishlistHandler) AddToWishlist(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	var req struct {
		ToyID int64 `json:"toy_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ToyID <= 0 {
		utils.SendErrorResponse(w, http.StatusBadRequest, "toy_id is required")
		return
	}

	if err := h.store.AddToWishlist(r.Context(), user.ID, req.ToyID); err != nil {
		sendStoreError(w, "add to wishlist", err)
		return
	}

	utils.SendResponse(w, http.StatusCreated, models.APIResponse{
		Status:  "success",
		Message: "Added to wishlist",
	})
}

func (h *WishlistHandler) RemoveFromWishlist(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	toyID, ok := pathID(w, r, "toyId")
	if !ok {
		return
	}

	if err := h.store.RemoveFromWishlist(r.Context(), user.ID, toyID); err != nil {
		sendStoreError(w, "remove from wishlist", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Removed from wishlist",
	})
}

func (h *WishlistHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	toyID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	reviews, err := h.store.ListReviews(r.Context(), toyID)
	if err != nil {
		sendStoreError(w, "list reviews", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Reviews retrieved",
		Data:    reviews,
	})
}

func (h *WishlistHandler) SaveReview(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	toyID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var in models.ReviewInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.Rating < 1 || in.Rating > 5 {
		utils.SendErrorResponse(w, http.StatusBadRequest, "rating must be between 1 and 5")
		return
	}
	in.Comment = strings.TrimSpace(in.Comment)
	if len(in.Comment) > maxReviewLength {
		utils.SendErrorResponse(w, http.StatusBadRequest, "comment is too long")
		return
	}

	review := &models.Review{
		ToyID:    toyID,
		UserID:   user.ID,
		UserName: user.Name,
		Rating:   in.Rating,
		Comment:  in.Comment,
	}
	if err := h.store.SaveReview(r.Context(), review); err != nil {
		sendStoreError(w, "save review", err)
		return
	}

	utils.SendResponse(w, http.StatusCreated, models.APIResponse{
		Status:  "success",
		Message: "Review saved",
		Data:    review,
	})
}
