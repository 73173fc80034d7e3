package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"toybox-api/database"
	"toybox-api/models"
	"toybox-api/utils"
)

type PlanStore interface {
	GetPlans(ctx context.Context) ([]models.Plan, error)
	GetPlanByID(ctx context.Context, id int64) (*models.Plan, error)
}

type PlanHandler struct {
	store   PlanStore
	session *PlanSession
}

func NewPlanHandler(store PlanStore, session *PlanSession) *PlanHandler {
	return &PlanHandler{store: store, session: session}
}

func (h *PlanHandler) GetPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.store.GetPlans(r.Context())
	if err != nil {
		sendStoreError(w, "list plans", err)
		return
	}
	if plans == nil {
		plans = []models.Plan{}
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Plans retrieved",
		Data:    plans,
	})
}

func (h *PlanHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	plan, err := h.store.GetPlanByID(r.Context(), id)
	if err != nil {
		sendStoreError(w, "get plan", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Plan retrieved",
		Data:    plan,
	})
}

func (h *PlanHandler) SelectPlan(w http.ResponseWriter, r *http.Request) {
	var req models.PlanSelection
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PlanID <= 0 {
		utils.SendErrorResponse(w, http.StatusBadRequest, "plan_id is required")
		return
	}

	plan, err := h.store.GetPlanByID(r.Context(), req.PlanID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			utils.SendErrorResponse(w, http.StatusNotFound, "Plan not found")
			return
		}
		sendStoreError(w, "select plan", err)
		return
	}

	if err := h.session.SetPlanID(w, r, plan.ID); err != nil {
		log.Printf("Error saving session: %v", err)
		utils.SendErrorResponse(w, http.StatusInternalServerError, "Failed to save plan selection")
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Plan selected",
		Data:    plan,
	})
}

func (h *PlanHandler) GetSelectedPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := selectedPlan(r, h.session, h.store)
	if err != nil {
		sendStoreError(w, "get selected plan", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Selected plan",
		Data:    plan,
	})
}

func (h *PlanHandler) ClearSelectedPlan(w http.ResponseWriter, r *http.Request) {
	if err := h.session.SetPlanID(w, r, 0); err != nil {
		log.Printf("Error saving session: %v", err)
		utils.SendErrorResponse(w, http.StatusInternalServerError, "Failed to clear plan selection")
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Plan selection cleared",
	})
}

// selectedPlan resolves the session's plan. A plan that has since been removed reads as no plan.
func selectedPlan(r *http.Request, session *PlanSession, store PlanStore) (*models.Plan, error) {
	planID := session.PlanID(r)
	if planID == 0 {
		return nil, nil
	}

	plan, err := store.GetPlanByID(r.Context(), planID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return plan, err
}
