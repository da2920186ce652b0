package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/safar/go-checkout/internal/checkout"
	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/inventory"
	"github.com/safar/go-checkout/internal/models"
	"github.com/safar/go-checkout/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GET /api/v1/products
func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", 1, 0)
	pageSize := intQuery(r, "page_size", defaultPageSize, maxPageSize)

	result, err := store.ListProducts(r.Context(), s.db, page, pageSize)
	if err != nil {
		s.internalError(w, r, "list products", err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, result)
}

// GET /api/v1/products/{product_id}
func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "product_id")
	if !ok {
		s.respondError(w, r, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	product, err := store.GetProduct(r.Context(), s.db, id)
	if errors.Is(err, database.ErrProductNotFound) {
		s.respondError(w, r, http.StatusNotFound, "product_not_found", err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, "get product", err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, product)
}

type meResponse struct {
	*models.User
	OrderCount int `json:"order_count"`
}

// GET /api/v1/me
func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	user, err := store.GetUser(r.Context(), s.db, userID(r))
	if errors.Is(err, database.ErrUserNotFound) {
		s.respondError(w, r, http.StatusNotFound, "user_not_found", err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, "get user", err)
		return
	}

	count, err := store.CountOrdersForUser(r.Context(), s.db, user.ID)
	if err != nil {
		s.internalError(w, r, "count orders", err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, meResponse{User: user, OrderCount: count})
}

// GET /api/v1/cart
func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := s.carts.Get(r.Context(), userID(r))
	if err != nil {
		s.respondCartError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, c)
}

// DELETE /api/v1/cart
func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	c, err := s.carts.Clear(r.Context(), userID(r))
	if err != nil {
		s.respondCartError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, c)
}

type addItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// POST /api/v1/cart/items
func (s *Server) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.ProductID <= 0 {
		s.respondError(w, r, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	c, err := s.carts.AddItem(r.Context(), userID(r), req.ProductID, req.Quantity)
	if err != nil {
		s.respondCartError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, c)
}

// PUT /api/v1/cart/items/{product_id}
func (s *Server) updateCartItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := idParam(r, "product_id")
	if !ok {
		s.respondError(w, r, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	c, err := s.carts.UpdateItem(r.Context(), userID(r), productID, req.Quantity)
	if err != nil {
		s.respondCartError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, c)
}

// DELETE /api/v1/cart/items/{product_id}
func (s *Server) removeCartItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := idParam(r, "product_id")
	if !ok {
		s.respondError(w, r, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	c, err := s.carts.RemoveItem(r.Context(), userID(r), productID)
	if err != nil {
		s.respondCartError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, c)
}

// POST /api/v1/orders
func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req checkout.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	req.UserID = userID(r)

	result, err := s.orders.Checkout(r.Context(), req)
	if err != nil {
		s.internalError(w, r, "place order", err)
		return
	}
	s.respondResult(w, r, http.StatusCreated, result)
}

// GET /api/v1/orders
func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	if _, err := store.DecodeCursor(cursor); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid_cursor", "cursor is malformed")
		return
	}
	limit := intQuery(r, "limit", defaultPageSize, maxPageSize)

	page, err := store.ListOrdersCursor(r.Context(), s.db, userID(r), cursor, limit)
	if err != nil {
		s.internalError(w, r, "list orders", err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, page)
}

// GET /api/v1/orders/{order_id}
func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := idParam(r, "order_id")
	if !ok {
		s.respondError(w, r, http.StatusBadRequest, "invalid_order_id", "order_id must be a positive integer")
		return
	}

	order, err := store.GetOrder(r.Context(), s.db, orderID)
	if errors.Is(err, database.ErrOrderNotFound) || (err == nil && order.UserID != userID(r)) {
		s.respondError(w, r, http.StatusNotFound, string(checkout.KindNotFound), checkout.ErrOrderNotFound.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, "get order", err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, order)
}

// POST /api/v1/orders/{order_id}/cancel
func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := idParam(r, "order_id")
	if !ok {
		s.respondError(w, r, http.StatusBadRequest, "invalid_order_id", "order_id must be a positive integer")
		return
	}

	result, err := s.orders.Cancel(r.Context(), userID(r), orderID)
	if err != nil {
		s.internalError(w, r, "cancel order", err)
		return
	}
	s.respondResult(w, r, http.StatusOK, result)
}

type adjustStockRequest struct {
	Delta int    `json:"delta"`
	Notes string `json:"notes"`
}

// POST /api/v1/admin/products/{product_id}/stock
func (s *Server) adjustStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := idParam(r, "product_id")
	if !ok {
		s.respondError(w, r, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	var req adjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	product, err := s.inventory.Adjust(r.Context(), productID, req.Delta, req.Notes)
	if err != nil {
		s.respondInventoryError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, product)
}

// GET /api/v1/admin/products/{product_id}/inventory-logs
func (s *Server) inventoryLogs(w http.ResponseWriter, r *http.Request) {
	productID, ok := idParam(r, "product_id")
	if !ok {
		s.respondError(w, r, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}
	limit := intQuery(r, "limit", inventory.DefaultHistoryLimit, inventory.MaxHistoryLimit)

	logs, err := s.inventory.History(r.Context(), productID, limit)
	if err != nil {
		s.respondInventoryError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, logs)
}

func (s *Server) respondInventoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, inventory.ErrInvalidAdjustment):
		s.respondError(w, r, http.StatusBadRequest, "invalid_adjustment", err.Error())
	case errors.Is(err, database.ErrProductNotFound):
		s.respondError(w, r, http.StatusNotFound, "product_not_found", database.ErrProductNotFound.Error())
	case errors.Is(err, database.ErrNegativeStock):
		s.respondError(w, r, http.StatusUnprocessableEntity, "negative_stock", database.ErrNegativeStock.Error())
	case errors.Is(err, inventory.ErrProductBusy):
		s.respondError(w, r, http.StatusConflict, "product_busy", inventory.ErrProductBusy.Error())
	default:
		s.internalError(w, r, "inventory operation failed", err)
	}
}
