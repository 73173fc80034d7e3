package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"toybox-api/models"
)

func (c *Connection) GetCartItems(ctx context.Context, userID int64) ([]models.CartItem, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, `
		SELECT ci.id, ci.user_id, ci.toy_id, ci.quantity, ci.created_at, ci.updated_at,
			t.id, t.slug, t.name, t.description, t.category, t.age_group, t.brand, t.price,
			t.stock, t.tags, t.image_url, t.created_at, t.updated_at
		FROM cart_items ci
		JOIN toys t ON t.id = ci.toy_id
		WHERE ci.user_id = ?
		ORDER BY ci.created_at ASC, ci.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("error fetching cart: %w", mapError(err))
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var item models.CartItem
		toy, err := scanToy(prefixedRow{scan: rows.Scan, head: []interface{}{
			&item.ID, &item.UserID, &item.ToyID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt,
		}})
		if err != nil {
			return nil, fmt.Errorf("error scanning cart item: %w", err)
		}
		item.Toy = toy
		items = append(items, item)
	}
	return items, rows.Err()
}

// AddCartItem adds quantity of a toy to the cart, summing with any existing line.
func (c *Connection) AddCartItem(ctx context.Context, userID, toyID int64, quantity int) error {
	if quantity <= 0 {
		quantity = 1
	}

	current, err := c.cartQuantity(ctx, userID, toyID)
	if err != nil {
		return err
	}
	if err := c.checkStock(ctx, toyID, current+quantity); err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, toy_id, quantity, created_at, updated_at)
		VALUES (?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity), updated_at = NOW()
	`, userID, toyID, quantity)
	if err != nil {
		log.Printf("Error adding toy %d to cart of user %d: %v", toyID, userID, err)
		return fmt.Errorf("failed to add cart item: %w", mapError(err))
	}
	return nil
}

// SetCartQuantity sets the quantity of a cart line. Zero or less removes the line.
func (c *Connection) SetCartQuantity(ctx context.Context, userID, toyID int64, quantity int) error {
	if quantity <= 0 {
		return c.RemoveCartItem(ctx, userID, toyID)
	}
	if err := c.checkStock(ctx, toyID, quantity); err != nil {
		return err
	}

	result, err := c.db.ExecContext(ctx, `
		UPDATE cart_items SET quantity = ?, updated_at = NOW()
		WHERE user_id = ? AND toy_id = ?
	`, quantity, userID, toyID)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", mapError(err))
	}
	return c.expectUpdated(ctx, result,
		`SELECT 1 FROM cart_items WHERE user_id = ? AND toy_id = ?`, userID, toyID)
}

// RemoveCartItem deletes a cart line. Removing a line that is not there is not an error.
func (c *Connection) RemoveCartItem(ctx context.Context, userID, toyID int64) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ? AND toy_id = ?`, userID, toyID)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", mapError(err))
	}
	return nil
}

func (c *Connection) ClearCart(ctx context.Context, userID int64) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", mapError(err))
	}
	return nil
}

func (c *Connection) cartQuantity(ctx context.Context, userID, toyID int64) (int, error) {
	var quantity int
	err := c.db.QueryRowContext(ctx,
		`SELECT quantity FROM cart_items WHERE user_id = ? AND toy_id = ?`, userID, toyID).Scan(&quantity)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("error reading cart quantity: %w", mapError(err))
	}
	return quantity, nil
}

func (c *Connection) checkStock(ctx context.Context, toyID int64, wanted int) error {
	var stock int
	err := c.db.QueryRowContext(ctx, `SELECT stock FROM toys WHERE id = ?`, toyID).Scan(&stock)
	if err != nil {
		return mapError(err)
	}
	if stock < wanted {
		return ErrInsufficientStock
	}
	return nil
}

// CartBackend is the server side store behind a cartsync.Cache, bound to one user.
type CartBackend struct {
	conn   *Connection
	userID int64
}

func NewCartBackend(conn *Connection, userID int64) *CartBackend {
	return &CartBackend{conn: conn, userID: userID}
}

func (b *CartBackend) FetchCart(ctx context.Context) ([]models.CartItem, error) {
	return b.conn.GetCartItems(ctx, b.userID)
}

func (b *CartBackend) AddItem(ctx context.Context, toyID int64, quantity int) error {
	return b.conn.AddCartItem(ctx, b.userID, toyID, quantity)
}

func (b *CartBackend) UpdateQuantity(ctx context.Context, toyID int64, quantity int) error {
	return b.conn.SetCartQuantity(ctx, b.userID, toyID, quantity)
}

func (b *CartBackend) RemoveItem(ctx context.Context, toyID int64) error {
	return b.conn.RemoveCartItem(ctx, b.userID, toyID)
}

func (b *CartBackend) Clear(ctx context.Context) error {
	return b.conn.ClearCart(ctx, b.userID)
}
