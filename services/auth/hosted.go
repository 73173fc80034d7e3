package auth

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/golang-jwt/jwt/v5"

	"toybox-api/models"
)

// HostedVerifier accepts tokens minted by the hosted identity provider. Each verified
// identity is linked to a local user row so orders and carts have a stable owner.
type HostedVerifier struct {
	secret []byte
	issuer string
	users  UserStore
}

type hostedClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

func NewHostedVerifier(secret, issuer string, users UserStore) *HostedVerifier {
	return &HostedVerifier{secret: []byte(secret), issuer: issuer, users: users}
}

func (h *HostedVerifier) Authenticate(ctx context.Context, tokenString string) (*models.AuthUser, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if h.issuer != "" {
		opts = append(opts, jwt.WithIssuer(h.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &hostedClaims{}, func(token *jwt.Token) (interface{}, error) {
		return h.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*hostedClaims)
	if !ok || !token.Valid || claims.Subject == "" || claims.Email == "" {
		return nil, ErrInvalidToken
	}

	user, err := h.users.UpsertExternalUser(ctx, claims.Subject, claims.Email, claims.Name)
	if err != nil {
		log.Printf("Failed to link hosted identity %s: %v", claims.Subject, err)
		return nil, fmt.Errorf("error linking user: %w", err)
	}
	return toAuthUser(user), nil
}
