package database

import (
	"context"
	"fmt"

	"toybox-api/models"
)

func (c *Connection) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("error running count: %w", mapError(err))
	}
	return n, nil
}

func (c *Connection) CountToys(ctx context.Context) (int, error) {
	return c.count(ctx, `SELECT COUNT(*) FROM toys`)
}

func (c *Connection) CountUsers(ctx context.Context) (int, error) {
	return c.count(ctx, `SELECT COUNT(*) FROM users`)
}

func (c *Connection) CountOrders(ctx context.Context, status models.OrderStatus) (int, error) {
	if status == "" {
		return c.count(ctx, `SELECT COUNT(*) FROM orders`)
	}
	return c.count(ctx, `SELECT COUNT(*) FROM orders WHERE status = ?`, status)
}

func (c *Connection) CountLowStock(ctx context.Context, threshold int) (int, error) {
	return c.count(ctx, `SELECT COUNT(*) FROM toys WHERE stock <= ?`, threshold)
}

// Revenue sums the amount of every order that has been paid for and not given back.
func (c *Connection) Revenue(ctx context.Context) (float64, error) {
	var total float64
	err := c.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM orders
		WHERE status IN (?, ?, ?, ?)
	`, models.OrderStatusPaid, models.OrderStatusProcessing, models.OrderStatusShipped, models.OrderStatusDelivered).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("error summing revenue: %w", mapError(err))
	}
	return total, nil
}
