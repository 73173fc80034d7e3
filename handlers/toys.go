package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"toybox-api/models"
	"toybox-api/utils"
)

type ToyStore interface {
	ListToys(ctx context.Context, filter models.ToyFilter) (*models.ToyPage, error)
	GetToy(ctx context.Context, id int64) (*models.Toy, error)
	GetToyBySlug(ctx context.Context, slug string) (*models.Toy, error)
	ListCategories(ctx context.Context) ([]string, error)
}

type ToyHandler struct {
	store ToyStore
}

func NewToyHandler(store ToyStore) *ToyHandler {
	return &ToyHandler{store: store}
}

func toyFilterFromQuery(r *http.Request) models.ToyFilter {
	q := r.URL.Query()
	filter := models.ToyFilter{
		Category: q.Get("category"),
		AgeGroup: q.Get("age_group"),
		Brand:    q.Get("brand"),
		Tag:      q.Get("tag"),
		Query:    strings.TrimSpace(q.Get("q")),
		MinPrice: queryFloat(r, "min_price"),
		MaxPrice: queryFloat(r, "max_price"),
		InStock:  q.Get("in_stock") == "true" || q.Get("in_stock") == "1",
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
	}
	if filter.Tag == "" {
		filter.Tag = q.Get("tags")
	}
	return filter
}

func (h *ToyHandler) ListToys(w http.ResponseWriter, r *http.Request) {
	page, err := h.store.ListToys(r.Context(), toyFilterFromQuery(r))
	if err != nil {
		sendStoreError(w, "list toys", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Toys retrieved",
		Data:    page,
	})
}

func (h *ToyHandler) GetToy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	toy, err := h.store.GetToy(r.Context(), id)
	if err != nil {
		sendStoreError(w, "get toy", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Toy retrieved",
		Data:    toy,
	})
}

func (h *ToyHandler) GetToyBySlug(w http.ResponseWriter, r *http.Request) {
	toy, err := h.store.GetToyBySlug(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		sendStoreError(w, "get toy by slug", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Toy retrieved",
		Data:    toy,
	})
}

func (h *ToyHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.store.ListCategories(r.Context())
	if err != nil {
		sendStoreError(w, "list categories", err)
		return
	}
	if categories == nil {
		categories = []string{}
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Categories retrieved",
		Data:    categories,
	})
}
