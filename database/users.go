package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"toybox-api/models"
)

const userColumns = `id, external_id, email, name, password_hash, role, created_at`

func scanUser(row scanner) (*models.User, error) {
	var user models.User
	var externalID, passwordHash sql.NullString

	if err := row.Scan(&user.ID, &externalID, &user.Email, &user.Name, &passwordHash, &user.Role, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.ExternalID = externalID.String
	user.PasswordHash = passwordHash.String
	return &user, nil
}

func (c *Connection) CreateUser(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Role == "" {
		user.Role = models.RoleCustomer
	}

	result, err := c.db.ExecContext(ctx, `
		INSERT INTO users (external_id, email, name, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, NOW())
	`, nullString(user.ExternalID), user.Email, user.Name, nullString(user.PasswordHash), user.Role)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	user.ID = id
	log.Printf("Created user %d (%s)", user.ID, user.Email)
	return nil
}

func (c *Connection) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user, err := scanUser(c.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err != nil {
		return nil, mapError(err)
	}
	return user, nil
}

func (c *Connection) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := scanUser(c.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email))
	if err != nil {
		return nil, mapError(err)
	}
	return user, nil
}

// UpsertExternalUser links an identity from the hosted provider to a local user, matching
// on the external id first and then on email.
func (c *Connection) UpsertExternalUser(ctx context.Context, externalID, email, name string) (*models.User, error) {
	user, err := scanUser(c.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE external_id = ?", externalID))
	if err == nil {
		return user, nil
	}
	if err != sql.ErrNoRows {
		return nil, mapError(err)
	}

	user, err = c.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if _, err := c.db.ExecContext(ctx, `UPDATE users SET external_id = ? WHERE id = ?`, externalID, user.ID); err != nil {
			return nil, fmt.Errorf("failed to link external identity: %w", mapError(err))
		}
		user.ExternalID = externalID
		return user, nil
	case err != ErrNotFound:
		return nil, err
	}

	user = &models.User{ExternalID: externalID, Email: email, Name: name, Role: models.RoleCustomer}
	if err := c.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (c *Connection) ListUsers(ctx context.Context, limit, offset int) ([]models.User, int, error) {
	limit, offset = pageBounds(limit, offset)

	var total int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting users: %w", mapError(err))
	}

	rows, err := c.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id ASC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("error listing users: %w", mapError(err))
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *user)
	}
	return users, total, rows.Err()
}

func (c *Connection) SetUserRole(ctx context.Context, id int64, role string) error {
	result, err := c.db.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, role, id)
	if err != nil {
		return fmt.Errorf("failed to set user role: %w", mapError(err))
	}
	return c.expectUpdated(ctx, result, `SELECT 1 FROM users WHERE id = ?`, id)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
