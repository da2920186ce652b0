package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/safar/go-checkout/internal/auth"
	"github.com/safar/go-checkout/internal/cart"
	"github.com/safar/go-checkout/internal/checkout"
	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/inventory"
	"github.com/safar/go-checkout/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testToken = "good-token"

type stubAuth struct{}

func (stubAuth) Verify(_ context.Context, token string) (*auth.Identity, error) {
	switch token {
	case "":
		return nil, auth.ErrMissingToken
	case testToken:
		return &auth.Identity{UserID: 7, Token: token}, nil
	default:
		return nil, auth.ErrInvalidToken
	}
}

type stubCarts struct {
	cart *models.Cart
	err  error

	gotUserID    int64
	gotProductID int64
	gotQuantity  int
}

func (s *stubCarts) Get(_ context.Context, userID int64) (*models.Cart, error) {
	s.gotUserID = userID
	return s.cart, s.err
}

func (s *stubCarts) AddItem(_ context.Context, userID, productID int64, quantity int) (*models.Cart, error) {
	s.gotUserID, s.gotProductID, s.gotQuantity = userID, productID, quantity
	return s.cart, s.err
}

func (s *stubCarts) UpdateItem(_ context.Context, userID, productID int64, quantity int) (*models.Cart, error) {
	s.gotUserID, s.gotProductID, s.gotQuantity = userID, productID, quantity
	return s.cart, s.err
}

func (s *stubCarts) RemoveItem(_ context.Context, userID, productID int64) (*models.Cart, error) {
	s.gotUserID, s.gotProductID = userID, productID
	return s.cart, s.err
}

func (s *stubCarts) Clear(_ context.Context, userID int64) (*models.Cart, error) {
	s.gotUserID = userID
	return s.cart, s.err
}

type stubOrders struct {
	result *checkout.Result
	err    error

	gotReq     checkout.PlaceOrderRequest
	gotOrderID int64
}

func (s *stubOrders) Checkout(_ context.Context, req checkout.PlaceOrderRequest) (*checkout.Result, error) {
	s.gotReq = req
	return s.result, s.err
}

func (s *stubOrders) Cancel(_ context.Context, userID, orderID int64) (*checkout.Result, error) {
	s.gotReq.UserID = userID
	s.gotOrderID = orderID
	return s.result, s.err
}

func newTestServer(t *testing.T, carts *stubCarts, orders *stubOrders) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if carts == nil {
		carts = &stubCarts{}
	}
	if orders == nil {
		orders = &stubOrders{}
	}
	return NewServer(db, carts, orders, stubAuth{}).Routes(), mock
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) checkout.Result {
	t.Helper()
	var result checkout.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	return result
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, nil, nil)
	rec := do(t, h, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	h, _ := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestRequestLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	h := NewServer(db, &stubCarts{}, &stubOrders{}, stubAuth{}, WithLogger(zap.New(core))).Routes()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
	assert.Equal(t, "/health", fields["path"])
}

func TestAuthRequired(t *testing.T) {
	h, _ := newTestServer(t, nil, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/cart", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAddCartItem(t *testing.T) {
	carts := &stubCarts{cart: &models.Cart{ID: 1, UserID: 7}}
	h, _ := newTestServer(t, carts, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/cart/items", addItemRequest{ProductID: 3, Quantity: 2}, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), carts.gotUserID)
	assert.Equal(t, int64(3), carts.gotProductID)
	assert.Equal(t, 2, carts.gotQuantity)
}

func TestCartErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid quantity", cart.ErrInvalidQuantity, http.StatusBadRequest},
		{"unknown product", cart.ErrProductNotFound, http.StatusNotFound},
		{"missing line", cart.ErrItemNotFound, http.StatusNotFound},
		{"insufficient stock", &checkout.InsufficientStockError{ProductID: 3, Requested: 5, Available: 1}, http.StatusUnprocessableEntity},
		{"unavailable", &checkout.ProductUnavailableError{ProductID: 3, Name: "Mug"}, http.StatusUnprocessableEntity},
		{"lock timeout", database.ErrLockTimeout, http.StatusConflict},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestServer(t, &stubCarts{err: tt.err}, nil)
			rec := do(t, h, http.MethodPut, "/api/v1/cart/items/3", map[string]int{"quantity": 5}, true)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCartRejectsBadProductID(t *testing.T) {
	h, _ := newTestServer(t, nil, nil)
	rec := do(t, h, http.MethodDelete, "/api/v1/cart/items/abc", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceOrder(t *testing.T) {
	orders := &stubOrders{result: &checkout.Result{
		Success: true,
		Order:   &models.Order{ID: 10, UserID: 7, OrderNumber: "ORD-20240501-ABCDEF"},
	}}
	h, _ := newTestServer(t, nil, orders)

	rec := do(t, h, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"shipping_address": "1 Main St",
		"payment_method":   "paypal",
		"user_id":          99,
	}, true)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(7), orders.gotReq.UserID, "user id comes from the token, not the body")
	assert.Equal(t, "1 Main St", orders.gotReq.ShippingAddress)

	result := decodeResult(t, rec)
	assert.True(t, result.Success)
	assert.Equal(t, "ORD-20240501-ABCDEF", result.Order.OrderNumber)
}

func TestPlaceOrderFailures(t *testing.T) {
	tests := []struct {
		kind checkout.ErrorKind
		want int
	}{
		{checkout.KindEmptyCart, http.StatusUnprocessableEntity},
		{checkout.KindInsufficientStock, http.StatusUnprocessableEntity},
		{checkout.KindPaymentFailed, http.StatusPaymentRequired},
		{checkout.KindInventoryBusy, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			orders := &stubOrders{result: &checkout.Result{Kind: tt.kind, Error: "failed"}}
			h, _ := newTestServer(t, nil, orders)

			rec := do(t, h, http.MethodPost, "/api/v1/orders", map[string]string{"shipping_address": "x"}, true)
			assert.Equal(t, tt.want, rec.Code)
			result := decodeResult(t, rec)
			assert.False(t, result.Success)
			assert.Equal(t, tt.kind, result.Kind)
		})
	}
}

func TestPlaceOrderUnexpectedErrorIsGeneric(t *testing.T) {
	orders := &stubOrders{err: errors.New("connection reset by peer")}
	h, _ := newTestServer(t, nil, orders)

	rec := do(t, h, http.MethodPost, "/api/v1/orders", map[string]string{"shipping_address": "x"}, true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestCancelOrder(t *testing.T) {
	orders := &stubOrders{result: &checkout.Result{Kind: checkout.KindNotFound}}
	h, _ := newTestServer(t, nil, orders)

	rec := do(t, h, http.MethodPost, "/api/v1/orders/42/cancel", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int64(42), orders.gotOrderID)
	assert.Equal(t, int64(7), orders.gotReq.UserID)
}

var orderRowColumns = []string{"id", "user_id", "order_number", "status", "total_amount",
	"shipping_address", "payment_method", "created_at", "updated_at", "version"}

func TestGetOrderHidesOtherUsersOrders(t *testing.T) {
	h, mock := newTestServer(t, nil, nil)
	now := time.Now()

	mock.ExpectQuery(`FROM orders WHERE id = \$1`).WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(orderRowColumns).
			AddRow(5, 99, "ORD-20240501-ABCDEF", "processing", "10.00", "1 Main St", "paypal", now, now, 1))
	mock.ExpectQuery(`FROM order_items`).WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`FROM payments WHERE order_id = \$1`).WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := do(t, h, http.MethodGet, "/api/v1/orders/5", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductNotFound(t *testing.T) {
	h, mock := newTestServer(t, nil, nil)

	mock.ExpectQuery(`FROM products WHERE id = \$1`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := do(t, h, http.MethodGet, "/api/v1/products/3", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrdersRejectsBadCursor(t *testing.T) {
	h, _ := newTestServer(t, nil, nil)
	rec := do(t, h, http.MethodGet, "/api/v1/orders?cursor=!!!", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMe(t *testing.T) {
	h, mock := newTestServer(t, nil, nil)
	now := time.Now()

	mock.ExpectQuery(`FROM users`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "created_at", "updated_at", "version"}).
			AddRow(7, "a@example.com", "Ada", now, now, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM orders WHERE user_id = \$1`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	rec := do(t, h, http.MethodGet, "/api/v1/me", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "a@example.com", body["email"])
	assert.Equal(t, float64(3), body["order_count"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

type stubInventory struct {
	product *models.Product
	logs    []models.InventoryLog
	err     error

	gotDelta int
	gotLimit int
}

func (s *stubInventory) Adjust(_ context.Context, productID int64, delta int, notes string) (*models.Product, error) {
	s.gotDelta = delta
	return s.product, s.err
}

func (s *stubInventory) History(_ context.Context, productID int64, limit int) ([]models.InventoryLog, error) {
	s.gotLimit = limit
	return s.logs, s.err
}

const testAdminKey = "admin-secret"

func newAdminServer(t *testing.T, inv *stubInventory) http.Handler {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewServer(db, &stubCarts{}, &stubOrders{}, stubAuth{}, WithAdmin(inv, testAdminKey)).Routes()
}

func doAdmin(t *testing.T, h http.Handler, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set(adminKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminRoutesNeedKey(t *testing.T) {
	inv := &stubInventory{product: &models.Product{ID: 3, StockQuantity: 9}}
	h := newAdminServer(t, inv)

	rec := doAdmin(t, h, http.MethodPost, "/api/v1/admin/products/3/stock", "", adjustStockRequest{Delta: 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doAdmin(t, h, http.MethodPost, "/api/v1/admin/products/3/stock", "wrong", adjustStockRequest{Delta: 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doAdmin(t, h, http.MethodPost, "/api/v1/admin/products/3/stock", testAdminKey, adjustStockRequest{Delta: 4, Notes: "delivery"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, inv.gotDelta)
}

func TestAdminRoutesDisabledWithoutKey(t *testing.T) {
	h, _ := newTestServer(t, nil, nil)
	rec := doAdmin(t, h, http.MethodPost, "/api/v1/admin/products/3/stock", "", adjustStockRequest{Delta: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdjustStockErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"zero delta", inventory.ErrInvalidAdjustment, http.StatusBadRequest},
		{"unknown product", database.ErrProductNotFound, http.StatusNotFound},
		{"negative result", database.ErrNegativeStock, http.StatusUnprocessableEntity},
		{"locked", fmt.Errorf("%w: %w", inventory.ErrProductBusy, database.ErrLockTimeout), http.StatusConflict},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAdminServer(t, &stubInventory{err: tt.err})
			rec := doAdmin(t, h, http.MethodPost, "/api/v1/admin/products/3/stock", testAdminKey, adjustStockRequest{Delta: -2})
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestInventoryLogsClampLimit(t *testing.T) {
	inv := &stubInventory{logs: []models.InventoryLog{{ID: 1, ProductID: 3, ActionType: models.InventoryActionAdjustment}}}
	h := newAdminServer(t, inv)

	rec := doAdmin(t, h, http.MethodGet, "/api/v1/admin/products/3/inventory-logs?limit=100000", testAdminKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, inventory.MaxHistoryLimit, inv.gotLimit)
}

func TestIntQuery(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 20},
		{"abc", 20},
		{"0", 20},
		{"-4", 20},
		{"35", 35},
		{"100", 100},
		{"500", 100},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/?page_size="+tt.raw, nil)
			assert.Equal(t, tt.want, intQuery(r, "page_size", defaultPageSize, maxPageSize))
		})
	}
}
