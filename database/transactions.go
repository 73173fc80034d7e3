package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"toybox-api/models"
)

type Transaction struct {
	tx *sql.Tx
}

func (t *Transaction) Commit() error {
	return t.tx.Commit()
}

func (t *Transaction) Rollback() error {
	return t.tx.Rollback()
}

func (t *Transaction) SaveOrder(ctx context.Context, order *models.Order) error {
	shipping, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("error encoding shipping address: %w", err)
	}
	billing, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return fmt.Errorf("error encoding billing address: %w", err)
	}
	var pricing []byte
	if order.Pricing != nil {
		if pricing, err = json.Marshal(order.Pricing); err != nil {
			return fmt.Errorf("error encoding pricing: %w", err)
		}
	}

	log.Printf("Saving order %s for user %d (amount %.2f %s)", order.ID, order.UserID, order.Amount, order.Currency)

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, plan_id, amount, currency, status, shipping_address, billing_address,
			pricing, gateway_order_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
	`, order.ID, order.UserID, order.PlanID, order.Amount, order.Currency, order.Status,
		string(shipping), string(billing), nullableJSON(pricing), order.GatewayOrderID)
	if err != nil {
		log.Printf("Error saving order %s: %v", order.ID, err)
		return fmt.Errorf("failed to save order: %w", mapError(err))
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		result, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, toy_id, name, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)
		`, item.OrderID, item.ToyID, item.Name, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to save order item: %w", mapError(err))
		}
		if id, err := result.LastInsertId(); err == nil {
			item.ID = id
		}
	}
	return nil
}

// LockOrderByGatewayID reads the order row with FOR UPDATE so concurrent settlements of
// the same payment serialize.
func (t *Transaction) LockOrderByGatewayID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE gateway_order_id = ? FOR UPDATE", gatewayOrderID)
	order, err := scanOrder(row)
	if err != nil {
		return nil, mapError(err)
	}

	items, err := queryOrderItems(ctx, t.tx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func (t *Transaction) RecordPayment(ctx context.Context, orderID, paymentID, signature string, status models.OrderStatus) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, gateway_payment_id = ?, gateway_signature = ?, updated_at = NOW()
		WHERE id = ?
	`, status, paymentID, signature, orderID)
	if err != nil {
		return fmt.Errorf("failed to record payment: %w", mapError(err))
	}
	return nil
}

// DecrementStock takes quantity units of a toy. A shortfall clamps the stock at zero and
// is reported through shortBy so a paid order is never rolled back over inventory.
func (t *Transaction) DecrementStock(ctx context.Context, toyID int64, quantity int) (shortBy int, err error) {
	var stock int
	if err := t.tx.QueryRowContext(ctx, `SELECT stock FROM toys WHERE id = ? FOR UPDATE`, toyID).Scan(&stock); err != nil {
		return 0, fmt.Errorf("failed to read stock for toy %d: %w", toyID, mapError(err))
	}

	next := stock - quantity
	if next < 0 {
		shortBy = -next
		next = 0
	}

	if _, err := t.tx.ExecContext(ctx, `UPDATE toys SET stock = ?, updated_at = NOW() WHERE id = ?`, next, toyID); err != nil {
		return 0, fmt.Errorf("failed to update stock for toy %d: %w", toyID, mapError(err))
	}
	return shortBy, nil
}

func (t *Transaction) ClearCart(ctx context.Context, userID int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", mapError(err))
	}
	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
