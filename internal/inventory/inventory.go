package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
	"github.com/safar/go-checkout/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

var (
	ErrInvalidAdjustment = errors.New("adjustment must be non-zero")
	ErrProductBusy       = errors.New("product is locked by an order in progress, try again")
)

// Service applies manual stock corrections. Adjustments lock the product
// row NOWAIT and back off between attempts instead of waiting in line
// behind checkouts.
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
		txOpts: database.DefaultTxOptions(),
	}
}

func (s *Service) Adjust(ctx context.Context, productID int64, delta int, notes string) (*models.Product, error) {
	if delta == 0 {
		return nil, ErrInvalidAdjustment
	}

	var product *models.Product
	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		adjusted, err := store.AdjustStock(ctx, tx, productID, delta, notes)
		if err != nil {
			return err
		}
		product = adjusted
		return nil
	})
	if err != nil {
		if database.IsLockTimeout(err) {
			return nil, fmt.Errorf("%w: %w", ErrProductBusy, err)
		}
		return nil, err
	}

	s.logger.Info("stock adjusted",
		zap.Int64("product_id", productID),
		zap.Int("delta", delta),
		zap.Int("stock_quantity", product.StockQuantity),
		zap.String("notes", notes),
	)

	return product, nil
}

// History returns the newest inventory movements of the product first.
func (s *Service) History(ctx context.Context, productID int64, limit int) ([]models.InventoryLog, error) {
	if limit < 1 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	if _, err := store.GetProduct(ctx, s.db, productID); err != nil {
		return nil, err
	}
	return store.ListInventoryLogs(ctx, s.db, productID, limit)
}
