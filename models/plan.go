package models

import "time"

// Plan is a subscription tier. Price is the monthly price with GST included.
type Plan struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	ToysPerMonth int       `json:"toys_per_month" db:"toys_per_month"`
	Price        float64   `json:"price" db:"price"`
	Features     []string  `json:"features" db:"-"`
	IsPopular    bool      `json:"is_popular" db:"is_popular"`
	Deposit      float64   `json:"deposit" db:"deposit"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type PlanSelection struct {
	PlanID int64 `json:"plan_id"`
}
