package auth

import (
	"context"

	"toybox-api/models"
)

// Authenticator turns a bearer token into the user it was issued for.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.AuthUser, error)
}

// UserStore is the user persistence both providers need.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpsertExternalUser(ctx context.Context, externalID, email, name string) (*models.User, error)
}

func toAuthUser(u *models.User) *models.AuthUser {
	return &models.AuthUser{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}
