package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toybox-api/database"
	"toybox-api/models"
	"toybox-api/queue"
	"toybox-api/services/auth"
	"toybox-api/services/toyimport"
)

func (m *memStore) UpsertToyBySlug(ctx context.Context, toy *models.Toy) (bool, error) {
	if m.createErr != nil {
		return false, m.createErr
	}
	for id, existing := range m.toys {
		if existing.Slug == toy.Slug {
			toy.ID = id
			copied := *toy
			m.toys[id] = &copied
			return false, nil
		}
	}
	return true, m.CreateToy(ctx, toy)
}

// memAccounts backs the user, wishlist and review endpoints.
type memAccounts struct {
	users    map[int64]*models.User
	wishlist map[int64][]int64
	reviews  []models.Review
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		users: map[int64]*models.User{
			1: {ID: 1, Email: shopper.Email, Role: models.RoleCustomer},
		},
		wishlist: map[int64][]int64{},
	}
}

func (a *memAccounts) ListUsers(ctx context.Context, limit, offset int) ([]models.User, int, error) {
	users := []models.User{}
	for _, u := range a.users {
		users = append(users, *u)
	}
	return users, len(users), nil
}

func (a *memAccounts) SetUserRole(ctx context.Context, id int64, role string) error {
	u, ok := a.users[id]
	if !ok {
		return database.ErrNotFound
	}
	u.Role = role
	return nil
}

func (a *memAccounts) GetWishlist(ctx context.Context, userID int64) ([]models.WishlistItem, error) {
	items := []models.WishlistItem{}
	for _, toyID := range a.wishlist[userID] {
		items = append(items, models.WishlistItem{ToyID: toyID})
	}
	return items, nil
}

func (a *memAccounts) AddToWishlist(ctx context.Context, userID, toyID int64) error {
	if toyID > 2 {
		return database.ErrNotFound
	}
	a.wishlist[userID] = append(a.wishlist[userID], toyID)
	return nil
}

func (a *memAccounts) RemoveFromWishlist(ctx context.Context, userID, toyID int64) error {
	kept := a.wishlist[userID][:0]
	for _, id := range a.wishlist[userID] {
		if id != toyID {
			kept = append(kept, id)
		}
	}
	a.wishlist[userID] = kept
	return nil
}

func (a *memAccounts) ListReviews(ctx context.Context, toyID int64) ([]models.Review, error) {
	reviews := []models.Review{}
	for _, r := range a.reviews {
		if r.ToyID == toyID {
			reviews = append(reviews, r)
		}
	}
	return reviews, nil
}

func (a *memAccounts) SaveReview(ctx context.Context, review *models.Review) error {
	review.ID = int64(len(a.reviews) + 1)
	a.reviews = append(a.reviews, *review)
	return nil
}

type adminFixture struct {
	*fixture
	accounts *memAccounts
	queue    *queue.Queue
	router   http.Handler
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	q := queue.NewQueueFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test_jobs")

	f := &adminFixture{fixture: newFixture(false), accounts: newMemAccounts(), queue: q}

	toys := NewAdminToyHandler(f.store, toyimport.NewImporter(f.store), "testdata/missing.json")
	orders := NewAdminOrderHandler(f.store)
	users := NewAdminUserHandler(f.accounts)
	dashboard := NewAdminDashboardHandler(f.store, q, 5)
	wishlist := NewWishlistHandler(f.accounts)

	r := mux.NewRouter()
	r.HandleFunc("/api/toys/{id}/reviews", wishlist.ListReviews).Methods(http.MethodGet)

	private := r.PathPrefix("/api").Subrouter()
	private.Use(func(next http.Handler) http.Handler { return asUser(shopper, next) })
	private.HandleFunc("/wishlist", wishlist.GetWishlist).Methods(http.MethodGet)
	private.HandleFunc("/wishlist", wishlist.AddToWishlist).Methods(http.MethodPost)
	private.HandleFunc("/wishlist/{toyId}", wishlist.RemoveFromWishlist).Methods(http.MethodDelete)
	private.HandleFunc("/toys/{id}/reviews", wishlist.SaveReview).Methods(http.MethodPost)

	a := r.PathPrefix("/api/admin").Subrouter()
	a.Use(func(next http.Handler) http.Handler { return asUser(admin, next) })
	a.HandleFunc("/toys", toys.CreateToy).Methods(http.MethodPost)
	a.HandleFunc("/toys/import", toys.ImportLegacyToys).Methods(http.MethodPost)
	a.HandleFunc("/toys/{id}", toys.UpdateToy).Methods(http.MethodPut)
	a.HandleFunc("/toys/{id}", toys.DeleteToy).Methods(http.MethodDelete)
	a.HandleFunc("/toys/{id}/stock", toys.AdjustStock).Methods(http.MethodPost)
	a.HandleFunc("/orders", orders.ListOrders).Methods(http.MethodGet)
	a.HandleFunc("/orders/{id}", orders.GetOrder).Methods(http.MethodGet)
	a.HandleFunc("/orders/{id}/status", orders.UpdateOrderStatus).Methods(http.MethodPatch)
	a.HandleFunc("/users", users.ListUsers).Methods(http.MethodGet)
	a.HandleFunc("/users/{id}/role", users.SetUserRole).Methods(http.MethodPut)
	a.HandleFunc("/dashboard", dashboard.Summary).Methods(http.MethodGet)
	a.HandleFunc("/queue", dashboard.QueueStats).Methods(http.MethodGet)
	a.HandleFunc("/queue/retry", dashboard.RetryJob).Methods(http.MethodPost)

	f.router = r
	return f
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestAdminCreateAndUpdateToy(t *testing.T) {
	f := newAdminFixture(t)

	rec := do(t, f.router, newRequest(t, http.MethodPost, "/api/admin/toys", models.ToyInput{Name: strPtr("Stacking Rings")}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "price is required")

	rec = do(t, f.router, newRequest(t, http.MethodPost, "/api/admin/toys", models.ToyInput{
		Name:  strPtr("Stacking Rings"),
		Price: floatPtr(349),
		Stock: intPtr(3),
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var toy models.Toy
	decodeEnvelope(t, rec, &toy)
	assert.Equal(t, "stacking-rings", toy.Slug)
	assert.Equal(t, int64(101), toy.ID)

	rec = do(t, f.router, newRequest(t, http.MethodPut, "/api/admin/toys/101", models.ToyInput{Price: floatPtr(-1)}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f.router, newRequest(t, http.MethodPut, "/api/admin/toys/101", models.ToyInput{Stock: intPtr(8)}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 8, f.store.toys[101].Stock)
	assert.Equal(t, 349.0, f.store.toys[101].Price)

	rec = do(t, f.router, newRequest(t, http.MethodDelete, "/api/admin/toys/101", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, f.router, newRequest(t, http.MethodDelete, "/api/admin/toys/101", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminWriteSurfacesPermissionDenied(t *testing.T) {
	f := newAdminFixture(t)
	f.store.createErr = database.ErrPermissionDenied

	rec := do(t, f.router, newRequest(t, http.MethodPost, "/api/admin/toys", models.ToyInput{
		Name:  strPtr("Kite"),
		Price: floatPtr(199),
	}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "permission denied")

	body := `[{"name":"Kite","price":199,"stock":2}]`
	rec = do(t, f.router, newRawRequest(t, http.MethodPost, "/api/admin/toys/import", body))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func newRawRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, target, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAdminImportToys(t *testing.T) {
	f := newAdminFixture(t)

	body := `{"toys":[{"name":"Wooden Blocks","price":49900,"stock":7},{"name":"Kite","price":199},{"price":10}]}`
	rec := do(t, f.router, newRawRequest(t, http.MethodPost, "/api/admin/toys/import", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result toyimport.Result
	decodeEnvelope(t, rec, &result)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Len(t, result.Skipped, 1)
	assert.Equal(t, 499.0, f.store.toys[1].Price)

	req, err := http.NewRequest(http.MethodPost, "/api/admin/toys/import", nil)
	require.NoError(t, err)
	rec = do(t, f.router, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "configured file does not exist")
}

func TestAdminAdjustStock(t *testing.T) {
	f := newAdminFixture(t)

	rec := do(t, f.router, newRequest(t, http.MethodPost, "/api/admin/toys/1/stock", map[string]int{"delta": -2}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, f.store.toys[1].Stock)

	rec = do(t, f.router, newRequest(t, http.MethodPost, "/api/admin/toys/1/stock", map[string]int{"delta": -9}))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, f.router, newRequest(t, http.MethodPost, "/api/admin/toys/1/stock", map[string]int{"delta": 0}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminOrderStatus(t *testing.T) {
	f := newAdminFixture(t)
	f.store.orders["o-1"] = &models.Order{ID: "o-1", UserID: 1, Status: models.OrderStatusPending}

	tests := []struct {
		name   string
		status models.OrderStatus
		code   int
	}{
		{"unknown status", "teleported", http.StatusBadRequest},
		{"cannot ship before payment", models.OrderStatusShipped, http.StatusConflict},
		{"cancel pending", models.OrderStatusCancelled, http.StatusOK},
		{"cancelled is final", models.OrderStatusPaid, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, f.router, newRequest(t, http.MethodPatch, "/api/admin/orders/o-1/status",
				models.OrderStatusUpdate{Status: tt.status}))
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, f.router, newRequest(t, http.MethodGet, "/api/admin/orders?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f.router, newRequest(t, http.MethodGet, "/api/admin/orders?status=cancelled", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Orders []models.Order `json:"orders"`
		Total  int            `json:"total"`
	}
	decodeEnvelope(t, rec, &page)
	assert.Equal(t, 1, page.Total)

	rec = do(t, f.router, newRequest(t, http.MethodGet, "/api/admin/orders/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminUserRole(t *testing.T) {
	f := newAdminFixture(t)

	rec := do(t, f.router, newRequest(t, http.MethodPut, "/api/admin/users/1/role", models.RoleUpdate{Role: "owner"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f.router, newRequest(t, http.MethodPut, "/api/admin/users/1/role", models.RoleUpdate{Role: models.RoleAdmin}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RoleAdmin, f.accounts.users[1].Role)

	rec = do(t, f.router, newRequest(t, http.MethodPut, "/api/admin/users/42/role", models.RoleUpdate{Role: models.RoleAdmin}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminDashboard(t *testing.T) {
	f := newAdminFixture(t)
	f.store.orders["o-1"] = &models.Order{ID: "o-1", Status: models.OrderStatusPending}

	rec := do(t, f.router, newRequest(t, http.MethodGet, "/api/admin/dashboard", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.DashboardSummary
	decodeEnvelope(t, rec, &summary)
	assert.Equal(t, models.DashboardSummary{
		Toys:          2,
		Users:         3,
		Orders:        1,
		PendingOrders: 1,
		Revenue:       1297,
		LowStockToys:  1,
	}, summary)

	f.store.listErr = errors.New("connection refused")
	rec = do(t, f.router, newRequest(t, http.MethodGet, "/api/admin/dashboard", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAdminQueue(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	require.NoError(t, f.queue.Enqueue(ctx, queue.JobTypeLowStockAlert, nil))

	rec := do(t, f.router, newRequest(t, http.MethodGet, "/api/admin/queue", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Stats  queue.Stats `json:"stats"`
		Failed []queue.Job `json:"failed"`
	}
	decodeEnvelope(t, rec, &body)
	assert.Equal(t, int64(1), body.Stats.Pending)
	assert.Empty(t, body.Failed)

	rec = do(t, f.router, newRequest(t, http.MethodPost, "/api/admin/queue/retry", map[string]string{"job_id": "nope"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, f.router, newRequest(t, http.MethodPost, "/api/admin/queue/retry", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWishlistAndReviews(t *testing.T) {
	f := newAdminFixture(t)

	rec := do(t, f.router, newRequest(t, http.MethodPost, "/api/wishlist", map[string]int64{"toy_id": 2}))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, f.router, newRequest(t, http.MethodPost, "/api/wishlist", map[string]int64{"toy_id": 77}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, f.router, newRequest(t, http.MethodGet, "/api/wishlist", nil))
	var items []models.WishlistItem
	decodeEnvelope(t, rec, &items)
	require.Len(t, items, 1)
	assert.Equal(t, int64(2), items[0].ToyID)

	rec = do(t, f.router, newRequest(t, http.MethodDelete, "/api/wishlist/2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.accounts.wishlist[shopper.ID])

	rec = do(t, f.router, newRequest(t, http.MethodPost, "/api/toys/1/reviews", models.ReviewInput{Rating: 6}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, f.router, newRequest(t, http.MethodPost, "/api/toys/1/reviews",
		models.ReviewInput{Rating: 4, Comment: strings.Repeat("a", 2001)}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f.router, newRequest(t, http.MethodPost, "/api/toys/1/reviews", models.ReviewInput{Rating: 5, Comment: "  sturdy  "}))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, f.router, newRequest(t, http.MethodGet, "/api/toys/1/reviews", nil))
	var reviews []models.Review
	decodeEnvelope(t, rec, &reviews)
	require.Len(t, reviews, 1)
	assert.Equal(t, "sturdy", reviews[0].Comment)
	assert.Equal(t, shopper.ID, reviews[0].UserID)
}

type stubLocalAuth struct{}

func (stubLocalAuth) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	if req.Email == shopper.Email {
		return nil, auth.ErrEmailTaken
	}
	if len(req.Password) < 8 {
		return nil, auth.ErrWeakPassword
	}
	return &models.AuthResponse{Token: "t", User: models.AuthUser{ID: 5, Email: req.Email}}, nil
}

func (stubLocalAuth) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	if email != shopper.Email || password != "correct horse" {
		return nil, auth.ErrInvalidCredentials
	}
	return &models.AuthResponse{Token: "t", User: *shopper}, nil
}

func (stubLocalAuth) RefreshToken(ctx context.Context, refreshToken string) (*models.AuthResponse, error) {
	return nil, auth.ErrInvalidToken
}

func TestAuthHandler(t *testing.T) {
	h := NewAuthHandler(stubLocalAuth{})
	r := mux.NewRouter()
	r.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/refresh", h.RefreshToken).Methods(http.MethodPost)
	r.Handle("/me", asUser(shopper, http.HandlerFunc(Me)))

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"register", "/register", models.RegisterRequest{Email: "new@example.com", Password: "long enough"}, http.StatusCreated},
		{"register taken", "/register", models.RegisterRequest{Email: shopper.Email, Password: "long enough"}, http.StatusConflict},
		{"register weak", "/register", models.RegisterRequest{Email: "new@example.com", Password: "short"}, http.StatusBadRequest},
		{"register missing", "/register", models.RegisterRequest{Email: "new@example.com"}, http.StatusBadRequest},
		{"login", "/login", models.AuthRequest{Email: " ASHA@example.com ", Password: "correct horse"}, http.StatusOK},
		{"login wrong", "/login", models.AuthRequest{Email: shopper.Email, Password: "nope"}, http.StatusUnauthorized},
		{"refresh", "/refresh", models.RefreshTokenRequest{RefreshToken: "stale"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, newRequest(t, http.MethodPost, tt.path, tt.body))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, r, newRequest(t, http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var me models.AuthUser
	decodeEnvelope(t, rec, &me)
	assert.Equal(t, shopper.Email, me.Email)
}
