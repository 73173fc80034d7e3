package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"toybox-api/database"
	"toybox-api/utils"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Printf("Error decoding request body for %s: %v", r.URL.Path, err)
		utils.SendErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// pathID reads a positive integer path variable, answering 400 itself when it is malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		utils.SendErrorResponse(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return fallback
	}
	return v
}

func queryFloat(r *http.Request, name string) *float64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

// sendStoreError maps database sentinels onto HTTP statuses. Anything unrecognised is a 500
// and is logged with the operation that failed.
func sendStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		utils.SendErrorResponse(w, http.StatusNotFound, "Not found")
	case errors.Is(err, database.ErrPermissionDenied):
		log.Printf("Permission denied during %s: %v", op, err)
		utils.SendErrorResponse(w, http.StatusForbidden, "The database refused this operation: permission denied")
	case errors.Is(err, database.ErrInsufficientStock):
		utils.SendErrorResponse(w, http.StatusConflict, "Not enough stock for this toy")
	case errors.Is(err, database.ErrConflict):
		utils.SendErrorResponse(w, http.StatusConflict, "Resource already exists")
	case errors.Is(err, database.ErrInvalidTransition):
		utils.SendErrorResponse(w, http.StatusConflict, "Order cannot move to that status")
	default:
		log.Printf("Error during %s: %v", op, err)
		utils.SendErrorResponse(w, http.StatusInternalServerError, "Internal server error")
	}
}
