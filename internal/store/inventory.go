package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
)

func InsertInventoryLog(ctx context.Context, q database.Querier, entry *models.InventoryLog) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO inventory_logs (product_id, order_id, quantity_before, quantity_after, action_type, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 RETURNING id, created_at`,
		entry.ProductID, entry.OrderID, entry.QuantityBefore, entry.QuantityAfter, entry.ActionType, entry.Notes,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("create inventory log: %w", err)
	}
	return nil
}

func ListInventoryLogs(ctx context.Context, q database.Querier, productID int64, limit int) ([]models.InventoryLog, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, product_id, order_id, quantity_before, quantity_after, action_type, notes, created_at
		 FROM inventory_logs
		 WHERE product_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list inventory logs: %w", err)
	}
	defer rows.Close()

	var logs []models.InventoryLog
	for rows.Next() {
		var entry models.InventoryLog
		var orderID sql.NullInt64
		err := rows.Scan(
			&entry.ID,
			&entry.ProductID,
			&orderID,
			&entry.QuantityBefore,
			&entry.QuantityAfter,
			&entry.ActionType,
			&entry.Notes,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan inventory log: %w", err)
		}
		if orderID.Valid {
			id := orderID.Int64
			entry.OrderID = &id
		}
		logs = append(logs, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return logs, nil
}

// AdjustStock applies a signed manual correction under the product's row
// lock and records it. The result may never drop below zero. The lock is
// taken NOWAIT so a correction never queues behind checkouts; callers retry.
func AdjustStock(ctx context.Context, tx *sql.Tx, productID int64, delta int, notes string) (*models.Product, error) {
	product, err := LockProductNoWait(ctx, tx, productID)
	if err != nil {
		return nil, err
	}

	before := product.StockQuantity
	after := before + delta
	if after < 0 {
		return nil, database.ErrNegativeStock
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE products SET stock_quantity = $1, updated_at = NOW(), version = version + 1 WHERE id = $2`,
		after, productID)
	if err != nil {
		return nil, fmt.Errorf("adjust stock: %w", err)
	}

	err = InsertInventoryLog(ctx, tx, &models.InventoryLog{
		ProductID:      productID,
		QuantityBefore: before,
		QuantityAfter:  after,
		ActionType:     models.InventoryActionAdjustment,
		Notes:          notes,
	})
	if err != nil {
		return nil, err
	}

	product.StockQuantity = after
	return product, nil
}
