package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"toybox-api/database"
	"toybox-api/middleware"
	"toybox-api/models"
	"toybox-api/services/toyimport"
	"toybox-api/utils"
)

type AdminToyStore interface {
	ToyStore
	CreateToy(ctx context.Context, toy *models.Toy) error
	UpdateToy(ctx context.Context, toy *models.Toy) error
	DeleteToy(ctx context.Context, id int64) error
	AdjustStock(ctx context.Context, id int64, delta int) (int, error)
}

type AdminToyHandler struct {
	store      AdminToyStore
	importer   *toyimport.Importer
	legacyFile string
}

func NewAdminToyHandler(store AdminToyStore, importer *toyimport.Importer, legacyFile string) *AdminToyHandler {
	return &AdminToyHandler{store: store, importer: importer, legacyFile: legacyFile}
}

func validateToy(toy *models.Toy) string {
	switch {
	case toy.Name == "":
		return "name is required"
	case toy.Price < 0:
		return "price cannot be negative"
	case toy.Stock < 0:
		return "stock cannot be negative"
	}
	return ""
}

func (h *AdminToyHandler) CreateToy(w http.ResponseWriter, r *http.Request) {
	var in models.ToyInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.Price == nil {
		utils.SendErrorResponse(w, http.StatusBadRequest, "price is required")
		return
	}

	toy := &models.Toy{}
	database.ApplyToyInput(toy, in)
	if problem := validateToy(toy); problem != "" {
		utils.SendErrorResponse(w, http.StatusBadRequest, problem)
		return
	}

	if err := h.store.CreateToy(r.Context(), toy); err != nil {
		if errors.Is(err, database.ErrConflict) {
			utils.SendErrorResponse(w, http.StatusConflict, "A toy with this name already exists")
			return
		}
		sendStoreError(w, "create toy", err)
		return
	}

	log.Printf("Admin %s created toy %d (%s)", adminName(r), toy.ID, toy.Slug)
	utils.SendResponse(w, http.StatusCreated, models.APIResponse{
		Status:  "success",
		Message: "Toy created",
		Data:    toy,
	})
}

func (h *AdminToyHandler) UpdateToy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var in models.ToyInput
	if !decodeJSON(w, r, &in) {
		return
	}

	toy, err := h.store.GetToy(r.Context(), id)
	if err != nil {
		sendStoreError(w, "update toy", err)
		return
	}
	database.ApplyToyInput(toy, in)
	if problem := validateToy(toy); problem != "" {
		utils.SendErrorResponse(w, http.StatusBadRequest, problem)
		return
	}

	if err := h.store.UpdateToy(r.Context(), toy); err != nil {
		sendStoreError(w, "update toy", err)
		return
	}

	log.Printf("Admin %s updated toy %d", adminName(r), toy.ID)
	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Toy updated",
		Data:    toy,
	})
}

func (h *AdminToyHandler) DeleteToy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteToy(r.Context(), id); err != nil {
		sendStoreError(w, "delete toy", err)
		return
	}

	log.Printf("Admin %s deleted toy %d", adminName(r), id)
	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Toy deleted",
	})
}

func (h *AdminToyHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Delta int `json:"delta"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Delta == 0 {
		utils.SendErrorResponse(w, http.StatusBadRequest, "delta must not be zero")
		return
	}

	stock, err := h.store.AdjustStock(r.Context(), id, req.Delta)
	if err != nil {
		sendStoreError(w, "adjust stock", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Stock adjusted",
		Data:    map[string]interface{}{"id": id, "stock": stock},
	})
}

// ImportLegacyToys loads the legacy JSON toy file into the catalog. A request body, when
// present, is imported instead of the configured file.
func (h *AdminToyHandler) ImportLegacyToys(w http.ResponseWriter, r *http.Request) {
	var (
		result *toyimport.Result
		err    error
	)
	if r.ContentLength > 0 && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		result, err = h.importer.Import(r.Context(), http.MaxBytesReader(w, r.Body, 16*maxBodyBytes))
	} else {
		result, err = h.importer.ImportFile(r.Context(), h.legacyFile)
	}

	if err != nil {
		if errors.Is(err, toyimport.ErrInvalidFile) {
			log.Printf("Toy import failed: %v", err)
			utils.SendErrorResponse(w, http.StatusUnprocessableEntity, "Toy import failed: "+err.Error())
			return
		}
		sendStoreError(w, "import toys", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Toys imported",
		Data:    result,
	})
}

func adminName(r *http.Request) string {
	if user := middleware.GetUserFromContext(r.Context()); user != nil {
		return user.Email
	}
	return "unknown"
}
