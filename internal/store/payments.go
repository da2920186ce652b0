package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
)

const paymentColumns = `id, order_id, payment_method, amount, status, transaction_id, created_at, updated_at`

func scanPayment(row rowScanner, payment *models.Payment) error {
	return row.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.PaymentMethod,
		&payment.Amount,
		&payment.Status,
		&payment.TransactionID,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
}

func InsertPayment(ctx context.Context, q database.Querier, payment *models.Payment) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO payments (order_id, payment_method, amount, status, transaction_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		payment.OrderID, payment.PaymentMethod, payment.Amount, payment.Status, payment.TransactionID,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func GetPaymentByOrder(ctx context.Context, q database.Querier, orderID int64) (*models.Payment, error) {
	payment := &models.Payment{}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`

	if err := scanPayment(q.QueryRowContext(ctx, query, orderID), payment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}

	return payment, nil
}

func LockPaymentByOrder(ctx context.Context, tx *sql.Tx, orderID int64) (*models.Payment, error) {
	payment := &models.Payment{}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 FOR UPDATE`

	if err := scanPayment(tx.QueryRowContext(ctx, query, orderID), payment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("lock payment: %w", err)
	}

	return payment, nil
}

// UpdatePaymentStatus applies a payment state transition; transactionID is
// only written when non-empty.
func UpdatePaymentStatus(ctx context.Context, q database.Querier, id int64, from, to models.PaymentStatus, transactionID string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE payments
		 SET status = $1,
		     transaction_id = COALESCE(NULLIF($2, ''), transaction_id),
		     updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		to, transactionID, id, from)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return expectOneRow(result, database.ErrStaleStatus)
}
