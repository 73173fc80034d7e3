package client

import (
	"context"
	"net/http"
	"strconv"

	"toybox-api/models"
)

// CartAPI is the signed-in user's cart on a remote storefront. It satisfies cartsync.Backend,
// so a cartsync.Cache can sit in front of it.
type CartAPI struct {
	client *Client
}

func (c *Client) Cart() *CartAPI {
	return &CartAPI{client: c}
}

func (a *CartAPI) FetchCart(ctx context.Context) ([]models.CartItem, error) {
	var cart models.CartResponse
	if err := a.client.do(ctx, http.MethodGet, "/api/cart", nil, &cart); err != nil {
		return nil, err
	}
	return cart.Items, nil
}

func (a *CartAPI) AddItem(ctx context.Context, toyID int64, quantity int) error {
	return a.client.do(ctx, http.MethodPost, "/api/cart", models.CartAdd{ToyID: toyID, Quantity: quantity}, nil)
}

func (a *CartAPI) UpdateQuantity(ctx context.Context, toyID int64, quantity int) error {
	return a.client.do(ctx, http.MethodPut, itemPath(toyID), models.CartUpdate{Quantity: quantity}, nil)
}

func (a *CartAPI) RemoveItem(ctx context.Context, toyID int64) error {
	return a.client.do(ctx, http.MethodDelete, itemPath(toyID), nil, nil)
}

func (a *CartAPI) Clear(ctx context.Context) error {
	return a.client.do(ctx, http.MethodDelete, "/api/cart", nil, nil)
}

func itemPath(toyID int64) string {
	return "/api/cart/" + strconv.FormatInt(toyID, 10)
}
