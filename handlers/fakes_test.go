package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/require"

	"toybox-api/database"
	"toybox-api/middleware"
	"toybox-api/models"
	"toybox-api/queue"
	"toybox-api/services/cartsync"
	"toybox-api/services/payment"
	"toybox-api/services/payment/razorpay"
	"toybox-api/services/pricing"
)

// memStore is an in-memory stand-in for *database.Connection.
type memStore struct {
	toys   map[int64]*models.Toy
	plans  map[int64]*models.Plan
	orders map[string]*models.Order
	carts  map[int64]map[int64]int
	locks  map[string]bool

	createErr  error
	listErr    error
	lastFilter models.ToyFilter
	nextToyID  int64
}

func newMemStore() *memStore {
	return &memStore{
		toys: map[int64]*models.Toy{
			1: {ID: 1, Slug: "wooden-blocks", Name: "Wooden Blocks", Category: "blocks", Price: 299, Stock: 5},
			2: {ID: 2, Slug: "rattle", Name: "Rattle", Category: "infant", Price: 0.5, Stock: 10},
		},
		plans: map[int64]*models.Plan{
			7: {ID: 7, Name: "Explorer", ToysPerMonth: 4, Price: 699, Deposit: 1000},
		},
		orders:    map[string]*models.Order{},
		carts:     map[int64]map[int64]int{},
		locks:     map[string]bool{},
		nextToyID: 100,
	}
}

func (m *memStore) ListToys(ctx context.Context, filter models.ToyFilter) (*models.ToyPage, error) {
	m.lastFilter = filter
	if m.listErr != nil {
		return nil, m.listErr
	}
	page := &models.ToyPage{Toys: []models.Toy{}, Limit: 20}
	for _, toy := range m.toys {
		page.Toys = append(page.Toys, *toy)
	}
	sort.Slice(page.Toys, func(i, j int) bool { return page.Toys[i].ID < page.Toys[j].ID })
	page.Total = len(page.Toys)
	return page, nil
}

func (m *memStore) GetToy(ctx context.Context, id int64) (*models.Toy, error) {
	toy, ok := m.toys[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *toy
	return &copied, nil
}

func (m *memStore) GetToyBySlug(ctx context.Context, slug string) (*models.Toy, error) {
	for _, toy := range m.toys {
		if toy.Slug == slug {
			copied := *toy
			return &copied, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memStore) ListCategories(ctx context.Context) ([]string, error) {
	return []string{"blocks", "infant"}, nil
}

func (m *memStore) CreateToy(ctx context.Context, toy *models.Toy) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.nextToyID++
	toy.ID = m.nextToyID
	copied := *toy
	m.toys[toy.ID] = &copied
	return nil
}

func (m *memStore) UpdateToy(ctx context.Context, toy *models.Toy) error {
	if _, ok := m.toys[toy.ID]; !ok {
		return database.ErrNotFound
	}
	copied := *toy
	m.toys[toy.ID] = &copied
	return nil
}

func (m *memStore) DeleteToy(ctx context.Context, id int64) error {
	if _, ok := m.toys[id]; !ok {
		return database.ErrNotFound
	}
	delete(m.toys, id)
	return nil
}

func (m *memStore) AdjustStock(ctx context.Context, id int64, delta int) (int, error) {
	toy, ok := m.toys[id]
	if !ok {
		return 0, database.ErrNotFound
	}
	if toy.Stock+delta < 0 {
		return 0, database.ErrInsufficientStock
	}
	toy.Stock += delta
	return toy.Stock, nil
}

func (m *memStore) GetPlans(ctx context.Context) ([]models.Plan, error) {
	plans := []models.Plan{}
	for _, plan := range m.plans {
		plans = append(plans, *plan)
	}
	return plans, nil
}

func (m *memStore) GetPlanByID(ctx context.Context, id int64) (*models.Plan, error) {
	plan, ok := m.plans[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *plan
	return &copied, nil
}

func (m *memStore) LockCheckout(ctx context.Context, checkoutID string) (bool, error) {
	if m.locks[checkoutID] {
		return false, nil
	}
	m.locks[checkoutID] = true
	return true, nil
}

func (m *memStore) ReleaseLock(ctx context.Context, checkoutID string) error {
	delete(m.locks, checkoutID)
	return nil
}

func (m *memStore) CreateOrder(ctx context.Context, order *models.Order) error {
	copied := *order
	m.orders[order.ID] = &copied
	return nil
}

func (m *memStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, ok := m.orders[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (m *memStore) GetOrderByGatewayID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	for _, order := range m.orders {
		if order.GatewayOrderID == gatewayOrderID {
			copied := *order
			return &copied, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memStore) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	orders := []models.Order{}
	for _, order := range m.orders {
		if filter.UserID != 0 && order.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		orders = append(orders, *order)
	}
	return orders, len(orders), nil
}

func (m *memStore) UpdateOrderStatus(ctx context.Context, id string, next models.OrderStatus) (*models.Order, error) {
	order, ok := m.orders[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	if !order.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", database.ErrInvalidTransition, order.Status, next)
	}
	order.Status = next
	copied := *order
	return &copied, nil
}

func (m *memStore) SettleOrderPayment(ctx context.Context, gatewayOrderID, paymentID, signature string) (*models.Order, bool, error) {
	for _, order := range m.orders {
		if order.GatewayOrderID != gatewayOrderID {
			continue
		}
		if order.Status == models.OrderStatusPaid {
			copied := *order
			return &copied, false, nil
		}
		if order.Status != models.OrderStatusPending && order.Status != models.OrderStatusPaymentFailed {
			return nil, false, database.ErrInvalidTransition
		}
		order.Status = models.OrderStatusPaid
		order.GatewayPaymentID = paymentID
		for _, item := range order.Items {
			m.toys[item.ToyID].Stock -= item.Quantity
		}
		delete(m.carts, order.UserID)
		copied := *order
		return &copied, true, nil
	}
	return nil, false, database.ErrNotFound
}

func (m *memStore) MarkPaymentFailed(ctx context.Context, gatewayOrderID, paymentID string) error {
	for _, order := range m.orders {
		if order.GatewayOrderID == gatewayOrderID && order.Status == models.OrderStatusPending {
			order.Status = models.OrderStatusPaymentFailed
			order.GatewayPaymentID = paymentID
		}
	}
	return nil
}

func (m *memStore) CountToys(ctx context.Context) (int, error) { return len(m.toys), nil }

func (m *memStore) CountUsers(ctx context.Context) (int, error) { return 3, nil }

func (m *memStore) CountOrders(ctx context.Context, status models.OrderStatus) (int, error) {
	_, n, err := m.ListOrders(ctx, models.OrderFilter{Status: status})
	return n, err
}

func (m *memStore) CountLowStock(ctx context.Context, threshold int) (int, error) {
	n := 0
	for _, toy := range m.toys {
		if toy.Stock <= threshold {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Revenue(ctx context.Context) (float64, error) {
	if m.listErr != nil {
		return 0, m.listErr
	}
	return 1297, nil
}

// memCart is the cart backend over memStore.
type memCart struct {
	store  *memStore
	userID int64
}

func (c *memCart) cart() map[int64]int {
	if c.store.carts[c.userID] == nil {
		c.store.carts[c.userID] = map[int64]int{}
	}
	return c.store.carts[c.userID]
}

func (c *memCart) FetchCart(ctx context.Context) ([]models.CartItem, error) {
	items := []models.CartItem{}
	for toyID, qty := range c.cart() {
		toy := *c.store.toys[toyID]
		items = append(items, models.CartItem{UserID: c.userID, ToyID: toyID, Quantity: qty, Toy: &toy})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ToyID < items[j].ToyID })
	return items, nil
}

func (c *memCart) AddItem(ctx context.Context, toyID int64, quantity int) error {
	toy, ok := c.store.toys[toyID]
	if !ok {
		return database.ErrNotFound
	}
	if c.cart()[toyID]+quantity > toy.Stock {
		return database.ErrInsufficientStock
	}
	c.cart()[toyID] += quantity
	return nil
}

func (c *memCart) UpdateQuantity(ctx context.Context, toyID int64, quantity int) error {
	if _, ok := c.cart()[toyID]; !ok {
		return database.ErrNotFound
	}
	if quantity > c.store.toys[toyID].Stock {
		return database.ErrInsufficientStock
	}
	c.cart()[toyID] = quantity
	return nil
}

func (c *memCart) RemoveItem(ctx context.Context, toyID int64) error {
	delete(c.cart(), toyID)
	return nil
}

func (c *memCart) Clear(ctx context.Context) error {
	delete(c.store.carts, c.userID)
	return nil
}

type recordedJob struct {
	Type    queue.JobType
	Data    map[string]interface{}
	Delayed bool
}

type memJobs struct {
	jobs []recordedJob
}

func (q *memJobs) Enqueue(ctx context.Context, jobType queue.JobType, data map[string]interface{}) error {
	q.jobs = append(q.jobs, recordedJob{Type: jobType, Data: data})
	return nil
}

func (q *memJobs) EnqueueDelayed(ctx context.Context, jobType queue.JobType, data map[string]interface{}, delay time.Duration) error {
	q.jobs = append(q.jobs, recordedJob{Type: jobType, Data: data, Delayed: true})
	return nil
}

func (q *memJobs) types() []queue.JobType {
	types := []queue.JobType{}
	for _, job := range q.jobs {
		if !job.Delayed {
			types = append(types, job.Type)
		}
	}
	return types
}

type stubGateway struct {
	createErr error
	created   int
}

func (g *stubGateway) KeyID() string { return "rzp_test_key" }

func (g *stubGateway) CreateOrder(ctx context.Context, req razorpay.OrderRequest) (*razorpay.Order, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created++
	return &razorpay.Order{
		ID:       fmt.Sprintf("order_G%d", g.created),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   razorpay.OrderCreated,
	}, nil
}

func (g *stubGateway) FetchOrder(ctx context.Context, orderID string) (*razorpay.Order, error) {
	return &razorpay.Order{ID: orderID}, nil
}

func (g *stubGateway) FetchPayment(ctx context.Context, paymentID string) (*razorpay.Payment, error) {
	return &razorpay.Payment{ID: paymentID}, nil
}

func (g *stubGateway) FetchOrderPayments(ctx context.Context, orderID string) ([]razorpay.Payment, error) {
	return nil, nil
}

const (
	testKeySecret     = "key-secret"
	testWebhookSecret = "webhook-secret"
)

var (
	shopper = &models.AuthUser{ID: 1, Email: "asha@example.com", Name: "Asha", Role: models.RoleCustomer}
	admin   = &models.AuthUser{ID: 9, Email: "ops@toybox.in", Name: "Ops", Role: models.RoleAdmin}
)

type fixture struct {
	store    *memStore
	jobs     *memJobs
	gateway  *stubGateway
	session  *PlanSession
	cart     *CartHandler
	checkout *CheckoutHandler
}

func newFixture(includeDeposit bool) *fixture {
	f := &fixture{
		store:   newMemStore(),
		jobs:    &memJobs{},
		gateway: &stubGateway{},
		session: NewPlanSessionFromStore(sessions.NewCookieStore([]byte("test-session-secret"))),
	}
	backends := func(userID int64) cartsync.Backend { return &memCart{store: f.store, userID: userID} }
	f.cart = NewCartHandler(backends, f.store, f.session, pricing.NewCalculator(includeDeposit))
	payments := payment.NewPaymentService(f.gateway, testKeySecret, testWebhookSecret, "INR")
	f.checkout = NewCheckoutHandler(f.cart, f.store, payments, f.jobs)
	return f
}

func asUser(user *models.AuthUser, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(middleware.WithUser(r.Context(), user)))
	})
}

func newRequest(t *testing.T, method, target string, body interface{}, cookies ...*http.Cookie) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data), string(env.Data))
	}
	return env
}
