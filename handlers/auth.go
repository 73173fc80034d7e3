package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"toybox-api/middleware"
	"toybox-api/models"
	"toybox-api/services/auth"
	"toybox-api/utils"
)

// LocalAuth is the password-based provider. Only mounted when the service issues its own tokens.
type LocalAuth interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error)
	Login(ctx context.Context, email, password string) (*models.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*models.AuthResponse, error)
}

type AuthHandler struct {
	local LocalAuth
}

func NewAuthHandler(local LocalAuth) *AuthHandler {
	return &AuthHandler{local: local}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		utils.SendErrorResponse(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	authResponse, err := h.local.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailTaken):
			utils.SendErrorResponse(w, http.StatusConflict, "An account with this email already exists")
		case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
			utils.SendErrorResponse(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("Registration failed for %s: %v", req.Email, err)
			utils.SendErrorResponse(w, http.StatusInternalServerError, "Registration failed")
		}
		return
	}

	log.Printf("Registered user %d (%s)", authResponse.User.ID, authResponse.User.Email)

	utils.SendResponse(w, http.StatusCreated, models.APIResponse{
		Status:  "success",
		Message: "Account created",
		Data:    authResponse,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.AuthRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		utils.SendErrorResponse(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	log.Printf("Login attempt for user: %s", email)

	authResponse, err := h.local.Login(r.Context(), email, req.Password)
	if err != nil {
		log.Printf("Authentication failed for user %s: %v", email, err)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			utils.SendErrorResponse(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		utils.SendErrorResponse(w, http.StatusInternalServerError, "Authentication failed")
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Authentication successful",
		Data:    authResponse,
	})
}

func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		utils.SendErrorResponse(w, http.StatusBadRequest, "Refresh token is required")
		return
	}

	authResponse, err := h.local.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		log.Printf("Token refresh failed: %v", err)
		utils.SendErrorResponse(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Token refreshed successfully",
		Data:    authResponse,
	})
}

// Me works with either provider; the middleware has already resolved the user.
func Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		utils.SendErrorResponse(w, http.StatusInternalServerError, "User not found in context")
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "User information retrieved",
		Data:    user,
	})
}
