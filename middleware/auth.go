package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"toybox-api/models"
	"toybox-api/services/auth"
	"toybox-api/utils"
)

type contextKey string

const UserContextKey contextKey = "user"

// InternalSecretHeader lets back-office tooling reach the admin API without a user token.
const InternalSecretHeader = "X-Internal-Secret"

func bearerToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "Missing authorization header"
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", "Invalid authorization header format"
	}
	return parts[1], ""
}

func authFailureMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken):
		return "Invalid token"
	default:
		return "Authentication failed"
	}
}

// AuthMiddleware rejects requests without a valid bearer token and puts the user in the context.
func AuthMiddleware(authenticator auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, problem := bearerToken(r)
			if problem != "" {
				log.Printf("%s from %s", problem, r.RemoteAddr)
				utils.SendErrorResponse(w, http.StatusUnauthorized, problem)
				return
			}

			user, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				log.Printf("Token validation failed from %s: %v", r.RemoteAddr, err)
				utils.SendErrorResponse(w, http.StatusUnauthorized, authFailureMessage(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUserFromContext(r.Context())
			if user == nil {
				utils.SendErrorResponse(w, http.StatusInternalServerError, "User not found in context")
				return
			}

			if !user.IsAdmin() {
				log.Printf("Non-admin user attempted to access admin endpoint: %s", user.Email)
				utils.SendErrorResponse(w, http.StatusForbidden, "This endpoint requires an admin account")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AdminMiddleware accepts either the internal secret header or an admin bearer token.
// An empty internalSecret disables the header path.
func AdminMiddleware(authenticator auth.Authenticator, internalSecret string) func(http.Handler) http.Handler {
	requireToken := AuthMiddleware(authenticator)
	requireAdmin := RequireAdmin()

	return func(next http.Handler) http.Handler {
		tokenChain := requireToken(requireAdmin(next))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(InternalSecretHeader)
			if provided == "" || internalSecret == "" {
				tokenChain.ServeHTTP(w, r)
				return
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(internalSecret)) != 1 {
				log.Printf("Invalid internal secret from %s", ClientIP(r))
				utils.SendErrorResponse(w, http.StatusUnauthorized, "Invalid internal secret")
				return
			}

			internal := &models.AuthUser{Name: "internal", Email: "internal@localhost", Role: models.RoleAdmin}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), internal)))
		})
	}
}

func WithUser(ctx context.Context, user *models.AuthUser) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

func GetUserFromContext(ctx context.Context) *models.AuthUser {
	user, ok := ctx.Value(UserContextKey).(*models.AuthUser)
	if !ok {
		return nil
	}
	return user
}

// AuthLoggingMiddleware logs every request to the auth endpoints with the resolved user.
func AuthLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		who := "anonymous"
		if user := GetUserFromContext(r.Context()); user != nil {
			who = user.Email
		}

		log.Printf("AUTH %s %s %s %d %v %s",
			r.Method, r.RequestURI, who, wrapper.status, time.Since(start), r.UserAgent())
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
