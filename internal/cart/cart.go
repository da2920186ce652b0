package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-checkout/internal/checkout"
	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
	"github.com/safar/go-checkout/internal/store"
	"go.uber.org/zap"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrItemNotFound    = errors.New("cart item not found")
	ErrProductNotFound = errors.New("product not found or not available")
)

// Service mutates a user's active cart. Every mutation runs with the cart
// row locked, so it is ordered against a concurrent checkout of that cart.
type Service struct {
	db     *sql.DB
	logger *zap.Logger
	txOpts database.TxOptions
}

func NewService(db *sql.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     db,
		logger: logger,
		txOpts: checkout.DefaultTxOptions(),
	}
}

// Get returns the active cart with its lines, creating an empty cart when
// the user has none.
func (s *Service) Get(ctx context.Context, userID int64) (*models.Cart, error) {
	cart, err := store.GetOrCreateActiveCart(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, s.db, cart)
}

func (s *Service) AddItem(ctx context.Context, userID, productID int64, quantity int) (*models.Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	return s.mutate(ctx, userID, func(tx *sql.Tx, cart *models.Cart) error {
		product, err := s.product(ctx, tx, productID)
		if err != nil {
			return err
		}

		total := quantity
		existing, err := store.GetCartItem(ctx, tx, cart.ID, productID)
		switch {
		case err == nil:
			total += existing.Quantity
		case errors.Is(err, database.ErrCartItemNotFound):
		default:
			return err
		}

		if err := checkout.CheckAvailability(product, total); err != nil {
			return err
		}

		_, err = store.AddCartItem(ctx, tx, cart.ID, productID, quantity)
		return err
	})
}

// UpdateItem sets the line's quantity; zero removes the line.
func (s *Service) UpdateItem(ctx context.Context, userID, productID int64, quantity int) (*models.Cart, error) {
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, userID, productID)
	}

	return s.mutate(ctx, userID, func(tx *sql.Tx, cart *models.Cart) error {
		product, err := s.product(ctx, tx, productID)
		if err != nil {
			return err
		}
		if err := checkout.CheckAvailability(product, quantity); err != nil {
			return err
		}
		return itemError(store.SetCartItemQuantity(ctx, tx, cart.ID, productID, quantity))
	})
}

func (s *Service) RemoveItem(ctx context.Context, userID, productID int64) (*models.Cart, error) {
	return s.mutate(ctx, userID, func(tx *sql.Tx, cart *models.Cart) error {
		return itemError(store.DeleteCartItem(ctx, tx, cart.ID, productID))
	})
}

func (s *Service) Clear(ctx context.Context, userID int64) (*models.Cart, error) {
	return s.mutate(ctx, userID, func(tx *sql.Tx, cart *models.Cart) error {
		return store.ClearCart(ctx, tx, cart.ID)
	})
}

func (s *Service) mutate(ctx context.Context, userID int64, fn func(*sql.Tx, *models.Cart) error) (*models.Cart, error) {
	var result *models.Cart

	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		cart, err := lockCart(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := fn(tx, cart); err != nil {
			return err
		}
		result, err = s.load(ctx, tx, cart)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// lockCart locks the active cart, starting a new one if a checkout finished
// the old cart while this transaction waited for it.
func lockCart(ctx context.Context, tx *sql.Tx, userID int64) (*models.Cart, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if _, err := store.GetOrCreateActiveCart(ctx, tx, userID); err != nil && !errors.Is(err, database.ErrCartNotFound) {
			return nil, err
		}

		cart, err := store.LockActiveCart(ctx, tx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, database.ErrCartNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("lock cart for user %d: %w", userID, database.ErrCartNotFound)
}

func (s *Service) product(ctx context.Context, q database.Querier, productID int64) (*models.Product, error) {
	product, err := store.GetProduct(ctx, q, productID)
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	if product.DeletedAt != nil {
		return nil, ErrProductNotFound
	}
	return product, nil
}

func (s *Service) load(ctx context.Context, q database.Querier, cart *models.Cart) (*models.Cart, error) {
	lines, err := store.ListCartLines(ctx, q, cart.ID)
	if err != nil {
		return nil, err
	}
	cart.Items = lines
	return cart, nil
}

func itemError(err error) error {
	if errors.Is(err, database.ErrCartItemNotFound) {
		return ErrItemNotFound
	}
	return err
}
