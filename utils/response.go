package utils

import (
	"encoding/json"
	"net/http"

	"toybox-api/models"
)

func SendErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.APIResponse{
		Status:  "error",
		Message: message,
	})
}

func SendSuccessResponse(w http.ResponseWriter, response models.APIResponse) {
	SendResponse(w, http.StatusOK, response)
}

func SendResponse(w http.ResponseWriter, status int, response models.APIResponse) {
	if response.Status == "" {
		response.Status = "success"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}
