package models

import "time"

type CartItem struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	ToyID     int64     `json:"toy_id" db:"toy_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	Toy       *Toy      `json:"toy,omitempty" db:"-"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Line returns the priced line for this item, zero when the toy was not joined.
func (c CartItem) Line() CartLine {
	if c.Toy == nil {
		return CartLine{ToyID: c.ToyID, Quantity: c.Quantity}
	}
	return CartLine{ToyID: c.ToyID, Price: c.Toy.Price, Quantity: c.Quantity}
}

type CartLine struct {
	ToyID    int64   `json:"toy_id"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type CartAdd struct {
	ToyID    int64 `json:"toy_id"`
	Quantity int   `json:"quantity"`
}

type CartUpdate struct {
	Quantity int `json:"quantity"`
}

type CartResponse struct {
	Items      []CartItem      `json:"items"`
	TotalItems int             `json:"total_items"`
	Plan       *Plan           `json:"plan,omitempty"`
	Pricing    *PriceBreakdown `json:"pricing"`
}

// PriceBreakdown is the checkout summary. All amounts are rounded to 2 decimals.
type PriceBreakdown struct {
	ItemsTotal      float64 `json:"items_total"`
	PlanPrice       float64 `json:"plan_price"`
	PlanPreTax      float64 `json:"plan_pre_tax"`
	GST             float64 `json:"gst"`
	Deposit         float64 `json:"deposit"`
	DepositIncluded bool    `json:"deposit_included"`
	Total           float64 `json:"total"`
}
