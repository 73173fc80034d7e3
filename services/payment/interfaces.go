package payment

import (
	"context"

	"toybox-api/services/payment/razorpay"
)

// Gateway is the part of the hosted gateway API the storefront uses.
type Gateway interface {
	KeyID() string
	CreateOrder(ctx context.Context, req razorpay.OrderRequest) (*razorpay.Order, error)
	FetchOrder(ctx context.Context, orderID string) (*razorpay.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*razorpay.Payment, error)
	FetchOrderPayments(ctx context.Context, orderID string) ([]razorpay.Payment, error)
}
