package models

type CheckoutRequest struct {
	ShippingAddress Address  `json:"shipping_address"`
	BillingAddress  *Address `json:"billing_address,omitempty"`
}

type CheckoutOrderResponse struct {
	OrderID        string          `json:"order_id"`
	GatewayOrderID string          `json:"gateway_order_id"`
	Amount         int64           `json:"amount"`
	Currency       string          `json:"currency"`
	KeyID          string          `json:"key_id"`
	Pricing        *PriceBreakdown `json:"pricing"`
}

// PaymentVerification is what the payment widget hands back after a successful charge.
type PaymentVerification struct {
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
}
