package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/go-checkout/internal/auth"
	"github.com/safar/go-checkout/internal/checkout"
	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
	"go.uber.org/zap"
)

type CartService interface {
	Get(ctx context.Context, userID int64) (*models.Cart, error)
	AddItem(ctx context.Context, userID, productID int64, quantity int) (*models.Cart, error)
	UpdateItem(ctx context.Context, userID, productID int64, quantity int) (*models.Cart, error)
	RemoveItem(ctx context.Context, userID, productID int64) (*models.Cart, error)
	Clear(ctx context.Context, userID int64) (*models.Cart, error)
}

type OrderService interface {
	Checkout(ctx context.Context, req checkout.PlaceOrderRequest) (*checkout.Result, error)
	Cancel(ctx context.Context, userID, orderID int64) (*checkout.Result, error)
}

type InventoryService interface {
	Adjust(ctx context.Context, productID int64, delta int, notes string) (*models.Product, error)
	History(ctx context.Context, productID int64, limit int) ([]models.InventoryLog, error)
}

type Authenticator interface {
	Verify(ctx context.Context, token string) (*auth.Identity, error)
}

type Server struct {
	db             database.Querier
	carts          CartService
	orders         OrderService
	auth           Authenticator
	inventory      InventoryService
	adminKey       string
	logger         *zap.Logger
	requestTimeout time.Duration
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAdmin enables the admin routes, authorized by the X-Admin-Key header.
func WithAdmin(inventory InventoryService, key string) Option {
	return func(s *Server) {
		s.inventory = inventory
		s.adminKey = key
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

func NewServer(db database.Querier, carts CartService, orders OrderService, authn Authenticator, opts ...Option) *Server {
	s := &Server{
		db:             db,
		carts:          carts,
		orders:         orders,
		auth:           authn,
		logger:         zap.NewNop(),
		requestTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", s.listProducts)
		r.Get("/products/{product_id}", s.getProduct)

		if s.inventory != nil && s.adminKey != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/products/{product_id}/stock", s.adjustStock)
				r.Get("/products/{product_id}/inventory-logs", s.inventoryLogs)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/me", s.getMe)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", s.getCart)
				r.Delete("/", s.clearCart)
				r.Post("/items", s.addCartItem)
				r.Put("/items/{product_id}", s.updateCartItem)
				r.Delete("/items/{product_id}", s.removeCartItem)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", s.placeOrder)
				r.Get("/", s.listOrders)
				r.Get("/{order_id}", s.getOrder)
				r.Post("/{order_id}/cancel", s.cancelOrder)
			})
		})
	})

	return r
}
