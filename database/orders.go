package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"toybox-api/models"
)

const orderColumns = `id, user_id, plan_id, amount, currency, status, shipping_address, billing_address, pricing,
	gateway_order_id, gateway_payment_id, gateway_signature, created_at, updated_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func scanOrder(row scanner) (*models.Order, error) {
	var order models.Order
	var planID sql.NullInt64
	var shipping, billing, pricing sql.NullString
	var gatewayOrderID, gatewayPaymentID, signature sql.NullString

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&planID,
		&order.Amount,
		&order.Currency,
		&order.Status,
		&shipping,
		&billing,
		&pricing,
		&gatewayOrderID,
		&gatewayPaymentID,
		&signature,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if planID.Valid {
		id := planID.Int64
		order.PlanID = &id
	}
	order.GatewayOrderID = gatewayOrderID.String
	order.GatewayPaymentID = gatewayPaymentID.String
	order.GatewaySignature = signature.String

	if shipping.Valid {
		if err := json.Unmarshal([]byte(shipping.String), &order.ShippingAddress); err != nil {
			log.Printf("Warning: invalid shipping address json for order %s: %v", order.ID, err)
		}
	}
	if billing.Valid {
		if err := json.Unmarshal([]byte(billing.String), &order.BillingAddress); err != nil {
			log.Printf("Warning: invalid billing address json for order %s: %v", order.ID, err)
		}
	}
	if pricing.Valid && pricing.String != "" {
		var breakdown models.PriceBreakdown
		if err := json.Unmarshal([]byte(pricing.String), &breakdown); err == nil {
			order.Pricing = &breakdown
		}
	}
	order.Items = []models.OrderItem{}
	return &order, nil
}

func queryOrderItems(ctx context.Context, q queryer, orderID string) ([]models.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, toy_id, name, quantity, unit_price
		FROM order_items WHERE order_id = ? ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("error fetching order items: %w", mapError(err))
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ToyID, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateOrder stores a new order with its items in one transaction.
func (c *Connection) CreateOrder(ctx context.Context, order *models.Order) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	tx, err := c.BeginTransaction(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.SaveOrder(ctx, order); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *Connection) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := c.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = ?", id)
	order, err := scanOrder(row)
	if err != nil {
		return nil, mapError(err)
	}

	items, err := queryOrderItems(ctx, c.db, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func (c *Connection) GetOrderByGatewayID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	row := c.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE gateway_order_id = ?", gatewayOrderID)
	order, err := scanOrder(row)
	if err != nil {
		return nil, mapError(err)
	}

	items, err := queryOrderItems(ctx, c.db, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

// ListOrders returns a page of orders, newest first, and the total matching the filter.
// Query failures are returned, never reported as an empty list.
func (c *Connection) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	limit, offset := pageBounds(filter.Limit, filter.Offset)

	var conds []string
	var args []interface{}
	if filter.UserID != 0 {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting orders: %w", mapError(err))
	}

	rows, err := c.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders"+where+" ORDER BY created_at DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("error listing orders: %w", mapError(err))
	}

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("error scanning order: %w", err)
		}
		orders = append(orders, *order)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range orders {
		items, err := queryOrderItems(ctx, c.db, orders[i].ID)
		if err != nil {
			return nil, 0, err
		}
		orders[i].Items = items
	}
	return orders, total, nil
}

// UpdateOrderStatus moves an order along its lifecycle. A move the lifecycle does not
// allow fails with ErrInvalidTransition.
func (c *Connection) UpdateOrderStatus(ctx context.Context, id string, next models.OrderStatus) (*models.Order, error) {
	tx, err := c.BeginTransaction(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var current models.OrderStatus
	err = tx.tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ? FOR UPDATE`, id).Scan(&current)
	if err != nil {
		return nil, mapError(err)
	}
	if !current.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	if _, err := tx.tx.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = NOW() WHERE id = ?`, next, id); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", mapError(err))
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("Order %s moved from %s to %s", id, current, next)
	return c.GetOrder(ctx, id)
}

// SettleOrderPayment marks the order paid, takes its items out of stock and empties the
// owner's cart, all in one transaction. Settling an order that is already paid is a
// no-op and reports settled=false.
func (c *Connection) SettleOrderPayment(ctx context.Context, gatewayOrderID, paymentID, signature string) (order *models.Order, settled bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	tx, err := c.BeginTransaction(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	order, err = tx.LockOrderByGatewayID(ctx, gatewayOrderID)
	if err != nil {
		return nil, false, err
	}
	if order.Status == models.OrderStatusPaid {
		return order, false, nil
	}
	if order.Status != models.OrderStatusPending && order.Status != models.OrderStatusPaymentFailed {
		return nil, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, models.OrderStatusPaid)
	}

	if err := tx.RecordPayment(ctx, order.ID, paymentID, signature, models.OrderStatusPaid); err != nil {
		return nil, false, err
	}
	for _, item := range order.Items {
		short, err := tx.DecrementStock(ctx, item.ToyID, item.Quantity)
		if err != nil {
			return nil, false, err
		}
		if short > 0 {
			log.Printf("Warning: order %s oversold toy %d by %d units", order.ID, item.ToyID, short)
		}
	}
	if err := tx.ClearCart(ctx, order.UserID); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit payment: %w", err)
	}

	order.Status = models.OrderStatusPaid
	order.GatewayPaymentID = paymentID
	order.GatewaySignature = signature
	return order, true, nil
}

// MarkPaymentFailed records a failed attempt against a pending order. Orders in any
// other status are left alone.
func (c *Connection) MarkPaymentFailed(ctx context.Context, gatewayOrderID, paymentID string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, gateway_payment_id = ?, updated_at = NOW()
		WHERE gateway_order_id = ? AND status = ?
	`, models.OrderStatusPaymentFailed, paymentID, gatewayOrderID, models.OrderStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", mapError(err))
	}
	return nil
}

// ExpireUnpaidOrder cancels an order that is still pending or payment_failed. It reports
// false when the order has moved on, e.g. it was settled in the meantime.
func (c *Connection) ExpireUnpaidOrder(ctx context.Context, gatewayOrderID string) (bool, error) {
	result, err := c.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = NOW()
		WHERE gateway_order_id = ? AND status IN (?, ?)
	`, models.OrderStatusCancelled, gatewayOrderID, models.OrderStatusPending, models.OrderStatusPaymentFailed)
	if err != nil {
		return false, fmt.Errorf("failed to expire order: %w", mapError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// PendingOrdersOlderThan lists pending orders for reconciliation.
func (c *Connection) PendingOrdersOlderThan(ctx context.Context, age time.Duration) ([]models.Order, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE status = ? AND gateway_order_id IS NOT NULL AND created_at < ? ORDER BY created_at ASC",
		models.OrderStatusPending, time.Now().UTC().Add(-age))
	if err != nil {
		return nil, fmt.Errorf("error listing pending orders: %w", mapError(err))
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}
