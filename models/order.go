package models

import "time"

type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "pending"
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	OrderStatusPaid          OrderStatus = "paid"
	OrderStatusProcessing    OrderStatus = "processing"
	OrderStatusShipped       OrderStatus = "shipped"
	OrderStatusDelivered     OrderStatus = "delivered"
	OrderStatusCancelled     OrderStatus = "cancelled"
	OrderStatusRefunded      OrderStatus = "refunded"
	OrderStatusReturned      OrderStatus = "returned"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:       {OrderStatusPaid, OrderStatusPaymentFailed, OrderStatusCancelled},
	OrderStatusPaymentFailed: {OrderStatusPending, OrderStatusCancelled},
	OrderStatusPaid:          {OrderStatusProcessing, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusProcessing:    {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:       {OrderStatusDelivered},
	OrderStatusDelivered:     {OrderStatusReturned},
}

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaymentFailed, OrderStatusPaid, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded,
		OrderStatusReturned:
		return true
	}
	return false
}

// CanTransitionTo reports whether an order in status s may move to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

type Address struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type Order struct {
	ID               string          `json:"id"`
	UserID           int64           `json:"user_id"`
	PlanID           *int64          `json:"plan_id,omitempty"`
	Amount           float64         `json:"amount"`
	Currency         string          `json:"currency"`
	Status           OrderStatus     `json:"status"`
	ShippingAddress  Address         `json:"shipping_address"`
	BillingAddress   Address         `json:"billing_address"`
	Pricing          *PriceBreakdown `json:"pricing,omitempty"`
	Items            []OrderItem     `json:"items"`
	GatewayOrderID   string          `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string          `json:"gateway_payment_id,omitempty"`
	GatewaySignature string          `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ID        int64   `json:"id"`
	OrderID   string  `json:"order_id"`
	ToyID     int64   `json:"toy_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type OrderFilter struct {
	UserID int64
	Status OrderStatus
	Limit  int
	Offset int
}

type OrderStatusUpdate struct {
	Status OrderStatus `json:"status"`
}
