package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"toybox-api/services/payment/razorpay"
	"toybox-api/utils"
)

var (
	// ErrGateway means the gateway could not be reached or refused the request.
	ErrGateway = errors.New("payment gateway error")
	// ErrSignatureMismatch means the payment or webhook signature did not verify.
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	ErrAmountTooSmall    = errors.New("amount below gateway minimum")
)

// minimumMinorUnits is one rupee in paise.
const minimumMinorUnits = 100

type Service struct {
	gateway       Gateway
	keySecret     string
	webhookSecret string
	currency      string
}

func NewPaymentService(gateway Gateway, keySecret, webhookSecret, currency string) *Service {
	if currency == "" {
		currency = "INR"
	}
	return &Service{
		gateway:       gateway,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		currency:      currency,
	}
}

func (s *Service) KeyID() string {
	return s.gateway.KeyID()
}

func (s *Service) Currency() string {
	return s.currency
}

// CreateOrder opens a gateway order for amount, expressed in major units. The receipt is
// the storefront order id.
func (s *Service) CreateOrder(ctx context.Context, amount decimal.Decimal, receipt string, notes map[string]string) (*razorpay.Order, error) {
	minor := utils.ToMinorUnits(amount.InexactFloat64())
	if minor < minimumMinorUnits {
		return nil, ErrAmountTooSmall
	}

	log.Printf("Creating gateway order for receipt %s: %d %s", receipt, minor, s.currency)

	order, err := s.gateway.CreateOrder(ctx, razorpay.OrderRequest{
		Amount:         minor,
		Currency:       s.currency,
		Receipt:        receipt,
		PaymentCapture: true,
		Notes:          notes,
	})
	if err != nil {
		log.Printf("Gateway order creation failed for receipt %s: %v", receipt, err)
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	return order, nil
}

// VerifyPaymentSignature checks the signature the payment widget returns after checkout.
func (s *Service) VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) error {
	if gatewayOrderID == "" || paymentID == "" || signature == "" {
		return ErrSignatureMismatch
	}
	expected := PaymentSignature(s.keySecret, gatewayOrderID, paymentID)
	if !signatureMatches(expected, strings.ToLower(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

func (s *Service) VerifyWebhookSignature(body []byte, signature string) error {
	if s.webhookSecret == "" || signature == "" {
		return ErrSignatureMismatch
	}
	if !signatureMatches(Sign(s.webhookSecret, body), strings.ToLower(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

func (s *Service) FetchPayment(ctx context.Context, paymentID string) (*razorpay.Payment, error) {
	payment, err := s.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	return payment, nil
}

// SettledPayment returns the captured payment for a gateway order, or nil when the order
// has not been paid yet.
func (s *Service) SettledPayment(ctx context.Context, gatewayOrderID string) (*razorpay.Payment, error) {
	payments, err := s.gateway.FetchOrderPayments(ctx, gatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	for i := range payments {
		if payments[i].Status == razorpay.PaymentCaptured {
			return &payments[i], nil
		}
	}
	return nil, nil
}
