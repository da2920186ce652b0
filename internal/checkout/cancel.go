package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
	"github.com/safar/go-checkout/internal/payment"
	"github.com/safar/go-checkout/internal/store"
	"go.uber.org/zap"
)

// CancelOrder puts the order's units back on the shelf and refunds a
// completed payment. Only pending and processing orders can be cancelled.
func (p *Processor) CancelOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	var (
		order    *models.Order
		refunded bool
	)

	err := database.WithRetry(ctx, p.db, p.txOpts, func(tx *sql.Tx) error {
		locked, err := lockOwnedOrder(ctx, tx, userID, orderID)
		if err != nil {
			return err
		}

		if !locked.Status.Cancellable() {
			return &InvalidStateTransitionError{From: locked.Status, To: models.OrderStatusCancelled}
		}

		items, err := store.ListOrderItems(ctx, tx, locked.ID)
		if err != nil {
			return err
		}
		locked.Items = items

		if err := p.restock(ctx, tx, locked); err != nil {
			return err
		}

		pay, err := store.LockPaymentByOrder(ctx, tx, locked.ID)
		switch {
		case err == nil:
			locked.Payment = pay
		case errors.Is(err, database.ErrPaymentNotFound):
		default:
			return err
		}

		if pay != nil && pay.Status == models.PaymentStatusCompleted {
			// A retried attempt must not refund twice.
			if !refunded {
				if err := p.refund(ctx, pay); err != nil {
					return err
				}
				refunded = true
			}
			err := store.UpdatePaymentStatus(ctx, tx, pay.ID, models.PaymentStatusCompleted, models.PaymentStatusRefunded, "")
			if err != nil {
				return err
			}
			pay.Status = models.PaymentStatusRefunded
		}

		if err := p.transition(ctx, tx, locked, models.OrderStatusCancelled); err != nil {
			return err
		}

		order = locked
		return nil
	})
	if err != nil {
		if refunded {
			p.logger.Error("order cancellation failed after refund",
				zap.Int64("order_id", orderID),
				zap.Error(err),
			)
		}
		if database.IsRetryable(err) {
			return nil, fmt.Errorf("%w: %w", ErrInventoryBusy, err)
		}
		return nil, err
	}

	p.logger.Info("order cancelled",
		zap.String("order_number", order.OrderNumber),
		zap.Int64("order_id", order.ID),
		zap.Bool("refunded", refunded),
	)

	return order, nil
}

// CompleteOrder marks a processing order as fulfilled.
func (p *Processor) CompleteOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order *models.Order

	err := database.WithTransaction(ctx, p.db, p.txOpts, func(tx *sql.Tx) error {
		locked, err := store.LockOrder(ctx, tx, orderID)
		if err != nil {
			if errors.Is(err, database.ErrOrderNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		if err := p.transition(ctx, tx, locked, models.OrderStatusCompleted); err != nil {
			return err
		}

		order = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("order completed",
		zap.String("order_number", order.OrderNumber),
		zap.Int64("order_id", order.ID),
	)

	return order, nil
}

// lockOwnedOrder hides other users' orders behind ErrOrderNotFound.
func lockOwnedOrder(ctx context.Context, tx *sql.Tx, userID, orderID int64) (*models.Order, error) {
	order, err := store.LockOrder(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (p *Processor) restock(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	ids := make([]int64, 0, len(order.Items))
	for _, item := range order.Items {
		ids = append(ids, item.ProductID)
	}

	products, err := store.LockProducts(ctx, tx, ids)
	if err != nil {
		return err
	}

	for _, item := range order.Items {
		product := products[item.ProductID]

		if err := store.IncrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}

		orderID := order.ID
		err := store.InsertInventoryLog(ctx, tx, &models.InventoryLog{
			ProductID:      product.ID,
			OrderID:        &orderID,
			QuantityBefore: product.StockQuantity,
			QuantityAfter:  product.StockQuantity + item.Quantity,
			ActionType:     models.InventoryActionCancellation,
			Notes:          "cancel " + order.OrderNumber,
		})
		if err != nil {
			return err
		}
		product.StockQuantity += item.Quantity
	}

	return nil
}

// refund is a no-op for payments that never reached the gateway.
func (p *Processor) refund(ctx context.Context, pay *models.Payment) error {
	if pay.TransactionID == "" {
		return nil
	}

	refundCtx, cancel := context.WithTimeout(ctx, p.paymentTimeout)
	defer cancel()

	receipt, err := p.gateway.Refund(refundCtx, payment.Refund{
		TransactionID: pay.TransactionID,
		Amount:        pay.Amount,
	})
	if err != nil {
		return database.Permanent(&PaymentFailedError{Method: payment.Method(pay.PaymentMethod), Err: err})
	}

	p.logger.Info("payment refunded",
		zap.Int64("order_id", pay.OrderID),
		zap.String("refund_id", receipt.TransactionID),
	)
	return nil
}
