// Package cartsync keeps a session's view of the cart in step with the store that owns it.
//
// The snapshot held by a Cache is never edited in place. Each mutation is sent to the
// Backend and the full cart is then fetched again; the snapshot is only replaced when
// that fetch succeeds. A failed call leaves the previous snapshot as it was.
package cartsync

import (
	"context"
	"log"
	"sync"

	"github.com/shopspring/decimal"

	"toybox-api/models"
	"toybox-api/services/pricing"
)

type Backend interface {
	FetchCart(ctx context.Context) ([]models.CartItem, error)
	AddItem(ctx context.Context, toyID int64, quantity int) error
	UpdateQuantity(ctx context.Context, toyID int64, quantity int) error
	RemoveItem(ctx context.Context, toyID int64) error
	Clear(ctx context.Context) error
}

type Cache struct {
	backend    Backend
	calculator *pricing.Calculator

	mu    sync.RWMutex
	items []models.CartItem
	plan  *models.Plan
}

func NewCache(backend Backend, calculator *pricing.Calculator) *Cache {
	if calculator == nil {
		calculator = pricing.NewCalculator(false)
	}
	return &Cache{backend: backend, calculator: calculator}
}

// Load replaces the snapshot with the backend's cart.
func (c *Cache) Load(ctx context.Context) error {
	items, err := c.backend.FetchCart(ctx)
	if err != nil {
		log.Printf("cartsync: failed to fetch cart: %v", err)
		return err
	}

	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	return nil
}

func (c *Cache) Add(ctx context.Context, toyID int64, quantity int) error {
	return c.mutate(ctx, "add", func(ctx context.Context) error {
		return c.backend.AddItem(ctx, toyID, quantity)
	})
}

// UpdateQuantity sets the quantity of a toy; zero or less removes it from the cart.
func (c *Cache) UpdateQuantity(ctx context.Context, toyID int64, quantity int) error {
	if quantity <= 0 {
		return c.Remove(ctx, toyID)
	}
	return c.mutate(ctx, "update", func(ctx context.Context) error {
		return c.backend.UpdateQuantity(ctx, toyID, quantity)
	})
}

func (c *Cache) Remove(ctx context.Context, toyID int64) error {
	return c.mutate(ctx, "remove", func(ctx context.Context) error {
		return c.backend.RemoveItem(ctx, toyID)
	})
}

func (c *Cache) Clear(ctx context.Context) error {
	return c.mutate(ctx, "clear", c.backend.Clear)
}

func (c *Cache) mutate(ctx context.Context, op string, call func(context.Context) error) error {
	if err := call(ctx); err != nil {
		log.Printf("cartsync: %s failed: %v", op, err)
		return err
	}
	return c.Load(ctx)
}

func (c *Cache) SelectPlan(plan *models.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plan = plan
}

func (c *Cache) ClearPlan() {
	c.SelectPlan(nil)
}

func (c *Cache) Plan() *models.Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.plan
}

// Items returns a copy of the current snapshot.
func (c *Cache) Items() []models.CartItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	items := make([]models.CartItem, len(c.items))
	copy(items, c.items)
	return items
}

func (c *Cache) TotalItems() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, item := range c.items {
		n += item.Quantity
	}
	return n
}

func (c *Cache) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items) == 0
}

func (c *Cache) TotalPrice() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calculator.TotalPrice(pricing.Lines(c.items), c.plan)
}

func (c *Cache) MonthlyPlanAmountExGST() decimal.Decimal {
	return c.calculator.MonthlyPlanAmountExGST(c.Plan())
}

func (c *Cache) GSTAmount() decimal.Decimal {
	return c.calculator.GSTAmount(c.Plan())
}

func (c *Cache) Breakdown() *models.PriceBreakdown {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calculator.Breakdown(pricing.Lines(c.items), c.plan)
}

// Response renders the snapshot the way the cart endpoints return it.
func (c *Cache) Response() models.CartResponse {
	items := c.Items()
	if items == nil {
		items = []models.CartItem{}
	}
	return models.CartResponse{
		Items:      items,
		TotalItems: c.TotalItems(),
		Plan:       c.Plan(),
		Pricing:    c.Breakdown(),
	}
}
