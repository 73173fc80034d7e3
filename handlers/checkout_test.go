package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toybox-api/models"
	"toybox-api/queue"
	"toybox-api/services/payment"
)

var testAddress = models.Address{
	FullName:   "Asha Rao",
	Phone:      "9800000000",
	Line1:      "12 MG Road",
	City:       "Bengaluru",
	State:      "KA",
	PostalCode: "560001",
}

func shopRouter(f *fixture, user *models.AuthUser) http.Handler {
	plans := NewPlanHandler(f.store, f.session)
	webhooks := NewWebhookHandler(f.checkout)

	r := mux.NewRouter()
	r.HandleFunc("/api/plan/select", plans.SelectPlan).Methods(http.MethodPost)
	r.HandleFunc("/api/webhooks/razorpay", webhooks.HandleRazorpay).Methods(http.MethodPost)

	private := r.PathPrefix("/api").Subrouter()
	private.Use(func(next http.Handler) http.Handler { return asUser(user, next) })
	private.HandleFunc("/cart", f.cart.GetCart).Methods(http.MethodGet)
	private.HandleFunc("/cart", f.cart.AddToCart).Methods(http.MethodPost)
	private.HandleFunc("/cart", f.cart.ClearCart).Methods(http.MethodDelete)
	private.HandleFunc("/cart/{toyId}", f.cart.UpdateCartItem).Methods(http.MethodPut)
	private.HandleFunc("/cart/{toyId}", f.cart.RemoveCartItem).Methods(http.MethodDelete)
	private.HandleFunc("/checkout/order", f.checkout.CreateOrder).Methods(http.MethodPost)
	private.HandleFunc("/checkout/verify", f.checkout.VerifyPayment).Methods(http.MethodPost)
	private.HandleFunc("/orders", f.checkout.ListOrders).Methods(http.MethodGet)
	private.HandleFunc("/orders/{id}", f.checkout.GetOrder).Methods(http.MethodGet)
	return r
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func selectPlan(t *testing.T, h http.Handler, planID int64) []*http.Cookie {
	t.Helper()
	rec := do(t, h, newRequest(t, http.MethodPost, "/api/plan/select", models.PlanSelection{PlanID: planID}))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Result().Cookies()
}

func TestCartLifecycle(t *testing.T) {
	f := newFixture(false)
	h := shopRouter(f, shopper)
	cookies := selectPlan(t, h, 7)

	rec := do(t, h, newRequest(t, http.MethodPost, "/api/cart", models.CartAdd{ToyID: 1, Quantity: 2}, cookies...))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var cart models.CartResponse
	decodeEnvelope(t, rec, &cart)
	assert.Equal(t, 2, cart.TotalItems)
	require.NotNil(t, cart.Plan)
	assert.Equal(t, 598.0, cart.Pricing.ItemsTotal)
	assert.Equal(t, 592.37, cart.Pricing.PlanPreTax)
	assert.Equal(t, 106.63, cart.Pricing.GST)
	assert.Equal(t, 1297.0, cart.Pricing.Total)
	assert.False(t, cart.Pricing.DepositIncluded)

	rec = do(t, h, newRequest(t, http.MethodPost, "/api/cart", models.CartAdd{ToyID: 1, Quantity: 4}, cookies...))
	assert.Equal(t, http.StatusConflict, rec.Code, "only 5 in stock")

	rec = do(t, h, newRequest(t, http.MethodPost, "/api/cart", models.CartAdd{ToyID: 99}, cookies...))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, newRequest(t, http.MethodPut, "/api/cart/1", models.CartUpdate{Quantity: 0}, cookies...))
	require.Equal(t, http.StatusOK, rec.Code)
	decodeEnvelope(t, rec, &cart)
	assert.Empty(t, cart.Items)
	assert.Equal(t, 699.0, cart.Pricing.Total)

	rec = do(t, h, newRequest(t, http.MethodDelete, "/api/cart/1", nil, cookies...))
	assert.Equal(t, http.StatusOK, rec.Code, "removing twice is harmless")
}

func TestCartDepositFlag(t *testing.T) {
	f := newFixture(true)
	h := shopRouter(f, shopper)
	cookies := selectPlan(t, h, 7)

	rec := do(t, h, newRequest(t, http.MethodGet, "/api/cart", nil, cookies...))
	var cart models.CartResponse
	decodeEnvelope(t, rec, &cart)
	assert.Equal(t, 1699.0, cart.Pricing.Total)
	assert.True(t, cart.Pricing.DepositIncluded)
}

func TestCheckoutRejectsTinyAmountBeforeGateway(t *testing.T) {
	f := newFixture(false)
	h := shopRouter(f, shopper)
	f.store.carts[shopper.ID] = map[int64]int{2: 1}

	rec := do(t, h, newRequest(t, http.MethodPost, "/api/checkout/order", models.CheckoutRequest{ShippingAddress: testAddress}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.gateway.created)
	assert.Empty(t, f.store.locks, "lock released")
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture(false)
	h := shopRouter(f, shopper)

	rec := do(t, h, newRequest(t, http.MethodPost, "/api/checkout/order", models.CheckoutRequest{ShippingAddress: testAddress}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cart is empty")

	noCity := testAddress
	noCity.City = ""
	rec = do(t, h, newRequest(t, http.MethodPost, "/api/checkout/order", models.CheckoutRequest{ShippingAddress: noCity}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "city is required")

	f.store.carts[shopper.ID] = map[int64]int{1: 1}
	f.store.locks["user-1"] = true
	rec = do(t, h, newRequest(t, http.MethodPost, "/api/checkout/order", models.CheckoutRequest{ShippingAddress: testAddress}))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCheckoutGatewayFailure(t *testing.T) {
	f := newFixture(false)
	f.gateway.createErr = errors.New("connection reset")
	h := shopRouter(f, shopper)
	f.store.carts[shopper.ID] = map[int64]int{1: 1}

	rec := do(t, h, newRequest(t, http.MethodPost, "/api/checkout/order", models.CheckoutRequest{ShippingAddress: testAddress}))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, f.store.orders)
}

func placeOrder(t *testing.T, f *fixture, h http.Handler) models.CheckoutOrderResponse {
	t.Helper()
	cookies := selectPlan(t, h, 7)
	f.store.carts[shopper.ID] = map[int64]int{1: 2}

	rec := do(t, h, newRequest(t, http.MethodPost, "/api/checkout/order", models.CheckoutRequest{ShippingAddress: testAddress}, cookies...))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp models.CheckoutOrderResponse
	decodeEnvelope(t, rec, &resp)
	return resp
}

func TestCheckoutCreatesPendingOrder(t *testing.T) {
	f := newFixture(false)
	h := shopRouter(f, shopper)

	resp := placeOrder(t, f, h)
	assert.Equal(t, int64(129700), resp.Amount)
	assert.Equal(t, "INR", resp.Currency)
	assert.Equal(t, "rzp_test_key", resp.KeyID)

	order := f.store.orders[resp.OrderID]
	require.NotNil(t, order)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, resp.GatewayOrderID, order.GatewayOrderID)
	assert.Equal(t, 1297.0, order.Amount)
	require.NotNil(t, order.PlanID)
	assert.Equal(t, int64(7), *order.PlanID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Wooden Blocks", order.Items[0].Name)
	assert.Equal(t, "IN", order.BillingAddress.Country)

	require.Len(t, f.jobs.jobs, 1)
	assert.Equal(t, queue.JobTypePaymentReconcile, f.jobs.jobs[0].Type)
	assert.True(t, f.jobs.jobs[0].Delayed)
	assert.Empty(t, f.store.locks)
}

func TestVerifyPayment(t *testing.T) {
	f := newFixture(false)
	h := shopRouter(f, shopper)
	resp := placeOrder(t, f, h)

	bad := models.PaymentVerification{GatewayOrderID: resp.GatewayOrderID, GatewayPaymentID: "pay_1", Signature: "deadbeef"}
	rec := do(t, h, newRequest(t, http.MethodPost, "/api/checkout/verify", bad))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "signature mismatch")
	assert.Equal(t, models.OrderStatusPaymentFailed, f.store.orders[resp.OrderID].Status)

	good := models.PaymentVerification{
		GatewayOrderID:   resp.GatewayOrderID,
		GatewayPaymentID: "pay_2",
		Signature:        payment.PaymentSignature(testKeySecret, resp.GatewayOrderID, "pay_2"),
	}
	rec = do(t, h, newRequest(t, http.MethodPost, "/api/checkout/verify", good))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	order := f.store.orders[resp.OrderID]
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, 3, f.store.toys[1].Stock)
	assert.Empty(t, f.store.carts[shopper.ID])
	assert.Equal(t, []queue.JobType{queue.JobTypeOrderConfirmation, queue.JobTypeLowStockAlert}, f.jobs.types())

	rec = do(t, h, newRequest(t, http.MethodPost, "/api/checkout/verify", good))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, f.store.toys[1].Stock, "second verify changes nothing")
	assert.Len(t, f.jobs.types(), 2)
}

func TestVerifyPaymentForeignOrder(t *testing.T) {
	f := newFixture(false)
	resp := placeOrder(t, f, shopRouter(f, shopper))

	other := &models.AuthUser{ID: 2, Email: "ravi@example.com", Role: models.RoleCustomer}
	req := models.PaymentVerification{
		GatewayOrderID:   resp.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        payment.PaymentSignature(testKeySecret, resp.GatewayOrderID, "pay_1"),
	}
	rec := do(t, shopRouter(f, other), newRequest(t, http.MethodPost, "/api/checkout/verify", req))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, models.OrderStatusPending, f.store.orders[resp.OrderID].Status)

	rec = do(t, shopRouter(f, other), newRequest(t, http.MethodGet, "/api/orders/"+resp.OrderID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, shopRouter(f, shopper), newRequest(t, http.MethodGet, "/api/orders/"+resp.OrderID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListOrdersSurfacesFailure(t *testing.T) {
	f := newFixture(false)
	f.store.listErr = errors.New("connection refused")

	rec := do(t, shopRouter(f, shopper), newRequest(t, http.MethodGet, "/api/orders", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func webhookRequest(t *testing.T, body, secret string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/razorpay", strings.NewReader(body))
	req.Header.Set(webhookSignatureHeader, payment.Sign(secret, []byte(body)))
	return req
}

func TestWebhookSettlesCapturedPayment(t *testing.T) {
	f := newFixture(false)
	h := shopRouter(f, shopper)
	resp := placeOrder(t, f, h)

	body := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_9","order_id":"` +
		resp.GatewayOrderID + `","amount":129700,"status":"captured"}}}}`

	rec := do(t, h, webhookRequest(t, body, "wrong-secret"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, models.OrderStatusPending, f.store.orders[resp.OrderID].Status)

	rec = do(t, h, webhookRequest(t, body, testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OrderStatusPaid, f.store.orders[resp.OrderID].Status)
	assert.Equal(t, "pay_9", f.store.orders[resp.OrderID].GatewayPaymentID)

	rec = do(t, h, webhookRequest(t, body, testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.jobs.types(), 2, "redelivery is a no-op")
}

func TestWebhookRejectsAmountMismatch(t *testing.T) {
	f := newFixture(false)
	h := shopRouter(f, shopper)
	resp := placeOrder(t, f, h)
	queued := len(f.jobs.types())

	short := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_9","order_id":"` +
		resp.GatewayOrderID + `","amount":100,"status":"captured"}}}}`
	rec := do(t, h, webhookRequest(t, short, testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OrderStatusPending, f.store.orders[resp.OrderID].Status)
	assert.Len(t, f.jobs.types(), queued)

	paid := `{"event":"order.paid","payload":{"payment":{"entity":{"id":"pay_9","order_id":"` +
		resp.GatewayOrderID + `","status":"captured"}},"order":{"entity":{"id":"` +
		resp.GatewayOrderID + `","amount_paid":129700}}}}`
	rec = do(t, h, webhookRequest(t, paid, testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OrderStatusPaid, f.store.orders[resp.OrderID].Status)
}

func TestWebhookPaymentFailed(t *testing.T) {
	f := newFixture(false)
	h := shopRouter(f, shopper)
	resp := placeOrder(t, f, h)

	body := `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_3","order_id":"` +
		resp.GatewayOrderID + `","status":"failed"}}}}`
	rec := do(t, h, webhookRequest(t, body, testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OrderStatusPaymentFailed, f.store.orders[resp.OrderID].Status)

	unknown := `{"event":"order.paid","payload":{"order":{"entity":{"id":"order_unknown"}}}}`
	rec = do(t, h, webhookRequest(t, unknown, testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, queue.JobTypePaymentReconcile, f.jobs.jobs[len(f.jobs.jobs)-1].Type)
}
