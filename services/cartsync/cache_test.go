package cartsync

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toybox-api/models"
	"toybox-api/services/pricing"
)

type memoryBackend struct {
	toys       map[int64]models.Toy
	quantities map[int64]int
	fetches    int
	failNext   error
	failFetch  error
}

func newMemoryBackend(toys ...models.Toy) *memoryBackend {
	b := &memoryBackend{toys: map[int64]models.Toy{}, quantities: map[int64]int{}}
	for _, toy := range toys {
		b.toys[toy.ID] = toy
	}
	return b
}

func (b *memoryBackend) takeErr() error {
	err := b.failNext
	b.failNext = nil
	return err
}

func (b *memoryBackend) FetchCart(ctx context.Context) ([]models.CartItem, error) {
	b.fetches++
	if b.failFetch != nil {
		return nil, b.failFetch
	}
	var items []models.CartItem
	for id, qty := range b.quantities {
		toy := b.toys[id]
		items = append(items, models.CartItem{ToyID: id, Quantity: qty, Toy: &toy})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ToyID < items[j].ToyID })
	return items, nil
}

func (b *memoryBackend) AddItem(ctx context.Context, toyID int64, quantity int) error {
	if err := b.takeErr(); err != nil {
		return err
	}
	b.quantities[toyID] += quantity
	return nil
}

func (b *memoryBackend) UpdateQuantity(ctx context.Context, toyID int64, quantity int) error {
	if err := b.takeErr(); err != nil {
		return err
	}
	b.quantities[toyID] = quantity
	return nil
}

func (b *memoryBackend) RemoveItem(ctx context.Context, toyID int64) error {
	if err := b.takeErr(); err != nil {
		return err
	}
	delete(b.quantities, toyID)
	return nil
}

func (b *memoryBackend) Clear(ctx context.Context) error {
	if err := b.takeErr(); err != nil {
		return err
	}
	b.quantities = map[int64]int{}
	return nil
}

var (
	robot  = models.Toy{ID: 1, Name: "Robot Kit", Price: 299, Stock: 10}
	blocks = models.Toy{ID: 2, Name: "Blocks", Price: 149.5, Stock: 4}
)

func TestEveryMutationRefetches(t *testing.T) {
	backend := newMemoryBackend(robot, blocks)
	cache := NewCache(backend, nil)
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, robot.ID, 1))
	require.NoError(t, cache.Add(ctx, robot.ID, 1))
	require.NoError(t, cache.Add(ctx, blocks.ID, 2))
	require.NoError(t, cache.UpdateQuantity(ctx, blocks.ID, 1))
	assert.Equal(t, 4, backend.fetches)

	items := cache.Items()
	require.Len(t, items, 2)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, "Robot Kit", items[0].Toy.Name)
	assert.Equal(t, 3, cache.TotalItems())
}

func TestFailedMutationKeepsSnapshot(t *testing.T) {
	backend := newMemoryBackend(robot)
	cache := NewCache(backend, nil)
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, robot.ID, 2))
	before := cache.Items()

	backend.failNext = errors.New("backend unavailable")
	err := cache.Add(ctx, robot.ID, 5)
	assert.Error(t, err)
	assert.Equal(t, before, cache.Items())
	assert.Equal(t, 1, backend.fetches, "no refetch after a failed call")
}

func TestFailedRefetchKeepsSnapshot(t *testing.T) {
	backend := newMemoryBackend(robot)
	cache := NewCache(backend, nil)
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, robot.ID, 1))

	backend.failFetch = errors.New("timeout")
	assert.Error(t, cache.Add(ctx, robot.ID, 1))

	items := cache.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Quantity)
}

func TestZeroQuantityRemovesItem(t *testing.T) {
	backend := newMemoryBackend(robot, blocks)
	cache := NewCache(backend, nil)
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, robot.ID, 1))
	require.NoError(t, cache.Add(ctx, blocks.ID, 1))

	require.NoError(t, cache.UpdateQuantity(ctx, robot.ID, 0))
	once := cache.Items()
	require.NoError(t, cache.UpdateQuantity(ctx, robot.ID, -1))
	twice := cache.Items()

	assert.Equal(t, once, twice)
	require.Len(t, twice, 1)
	assert.Equal(t, blocks.ID, twice[0].ToyID)
}

func TestClearEmptiesCart(t *testing.T) {
	backend := newMemoryBackend(robot)
	cache := NewCache(backend, nil)
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, robot.ID, 3))
	require.NoError(t, cache.Clear(ctx))
	assert.True(t, cache.IsEmpty())
	assert.True(t, cache.TotalPrice().IsZero())
}

func TestPricingOverSnapshot(t *testing.T) {
	backend := newMemoryBackend(robot)
	cache := NewCache(backend, pricing.NewCalculator(false))
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, robot.ID, 2))
	assert.Equal(t, 598.0, cache.TotalPrice().InexactFloat64())

	cache.SelectPlan(&models.Plan{ID: 3, Price: 699, Deposit: 1000})
	assert.Equal(t, 1297.0, cache.TotalPrice().InexactFloat64())
	assert.Equal(t, 106.63, cache.GSTAmount().Round(2).InexactFloat64())
	assert.Equal(t, 592.37, cache.MonthlyPlanAmountExGST().Round(2).InexactFloat64())

	cache.ClearPlan()
	assert.True(t, cache.GSTAmount().IsZero())

	resp := cache.Response()
	assert.Nil(t, resp.Plan)
	assert.Equal(t, 2, resp.TotalItems)
	assert.Equal(t, 598.0, resp.Pricing.Total)
}
