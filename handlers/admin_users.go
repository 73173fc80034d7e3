package handlers

import (
	"context"
	"log"
	"net/http"

	"toybox-api/models"
	"toybox-api/utils"
)

type AdminUserStore interface {
	ListUsers(ctx context.Context, limit, offset int) ([]models.User, int, error)
	SetUserRole(ctx context.Context, id int64, role string) error
}

type AdminUserHandler struct {
	store AdminUserStore
}

func NewAdminUserHandler(store AdminUserStore) *AdminUserHandler {
	return &AdminUserHandler{store: store}
}

func (h *AdminUserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, total, err := h.store.ListUsers(r.Context(), queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		sendStoreError(w, "list users", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Users retrieved",
		Data: map[string]interface{}{
			"users": users,
			"total": total,
		},
	})
}

func (h *AdminUserHandler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req models.RoleUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role != models.RoleCustomer && req.Role != models.RoleAdmin {
		utils.SendErrorResponse(w, http.StatusBadRequest, "role must be customer or admin")
		return
	}

	if err := h.store.SetUserRole(r.Context(), id, req.Role); err != nil {
		sendStoreError(w, "set user role", err)
		return
	}

	log.Printf("Admin %s set role of user %d to %s", adminName(r), id, req.Role)
	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "User role updated",
		Data:    map[string]interface{}{"id": id, "role": req.Role},
	})
}
