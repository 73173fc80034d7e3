package models

import "time"

type WishlistItem struct {
	ToyID   int64     `json:"toy_id"`
	Toy     *Toy      `json:"toy,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

type Review struct {
	ID        int64     `json:"id"`
	ToyID     int64     `json:"toy_id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

type ReviewInput struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type DashboardSummary struct {
	Toys          int     `json:"toys"`
	Users         int     `json:"users"`
	Orders        int     `json:"orders"`
	PendingOrders int     `json:"pending_orders"`
	Revenue       float64 `json:"revenue"`
	LowStockToys  int     `json:"low_stock_toys"`
}
