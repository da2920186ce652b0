package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
)

func scanCart(row rowScanner, cart *models.Cart) error {
	var checkedOutAt sql.NullTime
	if err := row.Scan(&cart.ID, &cart.UserID, &checkedOutAt, &cart.CreatedAt, &cart.UpdatedAt); err != nil {
		return err
	}
	if checkedOutAt.Valid {
		t := checkedOutAt.Time
		cart.CheckedOutAt = &t
	}
	return nil
}

func GetActiveCart(ctx context.Context, q database.Querier, userID int64) (*models.Cart, error) {
	cart := &models.Cart{}

	query := `
		SELECT id, user_id, checked_out_at, created_at, updated_at
		FROM carts
		WHERE user_id = $1 AND checked_out_at IS NULL`

	if err := scanCart(q.QueryRowContext(ctx, query, userID), cart); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCartNotFound
		}
		return nil, fmt.Errorf("get active cart: %w", err)
	}

	return cart, nil
}

func GetCart(ctx context.Context, q database.Querier, id int64) (*models.Cart, error) {
	cart := &models.Cart{}

	query := `
		SELECT id, user_id, checked_out_at, created_at, updated_at
		FROM carts
		WHERE id = $1`

	if err := scanCart(q.QueryRowContext(ctx, query, id), cart); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCartNotFound
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	return cart, nil
}

// GetOrCreateActiveCart relies on the partial unique index on active carts,
// so concurrent first requests for a user converge on a single row.
func GetOrCreateActiveCart(ctx context.Context, q database.Querier, userID int64) (*models.Cart, error) {
	_, err := q.ExecContext(ctx,
		`INSERT INTO carts (user_id, created_at, updated_at)
		 VALUES ($1, NOW(), NOW())
		 ON CONFLICT (user_id) WHERE checked_out_at IS NULL DO NOTHING`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}

	return GetActiveCart(ctx, q, userID)
}

// LockActiveCart serializes checkouts of the same cart: a second concurrent
// attempt waits here and then finds the cart already checked out.
func LockActiveCart(ctx context.Context, tx *sql.Tx, userID int64) (*models.Cart, error) {
	cart := &models.Cart{}

	query := `
		SELECT id, user_id, checked_out_at, created_at, updated_at
		FROM carts
		WHERE user_id = $1 AND checked_out_at IS NULL
		FOR UPDATE`

	if err := scanCart(tx.QueryRowContext(ctx, query, userID), cart); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCartNotFound
		}
		return nil, fmt.Errorf("lock cart: %w", err)
	}

	return cart, nil
}

// ListCartLines returns the cart's items joined with their live products,
// ordered by product id.
func ListCartLines(ctx context.Context, q database.Querier, cartID int64) ([]models.CartLine, error) {
	query := `
		SELECT ci.id, ci.cart_id, ci.product_id, ci.quantity, ci.created_at, ci.updated_at,
		       p.id, p.sku, p.name, p.description, p.price, p.stock_quantity, p.is_active, p.is_suspended,
		       p.deleted_at, p.created_at, p.updated_at, p.version
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.product_id`

	rows, err := q.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	defer rows.Close()

	lines := []models.CartLine{}
	for rows.Next() {
		var line models.CartLine
		var deletedAt sql.NullTime
		err := rows.Scan(
			&line.ID,
			&line.CartID,
			&line.ProductID,
			&line.Quantity,
			&line.CreatedAt,
			&line.UpdatedAt,
			&line.Product.ID,
			&line.Product.SKU,
			&line.Product.Name,
			&line.Product.Description,
			&line.Product.Price,
			&line.Product.StockQuantity,
			&line.Product.IsActive,
			&line.Product.IsSuspended,
			&deletedAt,
			&line.Product.CreatedAt,
			&line.Product.UpdatedAt,
			&line.Product.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		if deletedAt.Valid {
			t := deletedAt.Time
			line.Product.DeletedAt = &t
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

func GetCartItem(ctx context.Context, q database.Querier, cartID, productID int64) (*models.CartItem, error) {
	item := &models.CartItem{}

	err := q.QueryRowContext(ctx,
		`SELECT id, cart_id, product_id, quantity, created_at, updated_at
		 FROM cart_items
		 WHERE cart_id = $1 AND product_id = $2`,
		cartID, productID).Scan(
		&item.ID,
		&item.CartID,
		&item.ProductID,
		&item.Quantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCartItemNotFound
		}
		return nil, fmt.Errorf("get cart item: %w", err)
	}

	return item, nil
}

// AddCartItem inserts the product or adds quantity to the existing line.
func AddCartItem(ctx context.Context, q database.Querier, cartID, productID int64, quantity int) (*models.CartItem, error) {
	item := &models.CartItem{}

	err := q.QueryRowContext(ctx,
		`INSERT INTO cart_items (cart_id, product_id, quantity, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 ON CONFLICT (cart_id, product_id)
		 DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()
		 RETURNING id, cart_id, product_id, quantity, created_at, updated_at`,
		cartID, productID, quantity).Scan(
		&item.ID,
		&item.CartID,
		&item.ProductID,
		&item.Quantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("add cart item: %w", err)
	}

	return item, nil
}

func SetCartItemQuantity(ctx context.Context, q database.Querier, cartID, productID int64, quantity int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $1, updated_at = NOW()
		 WHERE cart_id = $2 AND product_id = $3`,
		quantity, cartID, productID)
	if err != nil {
		return fmt.Errorf("update cart item: %w", err)
	}
	return expectOneRow(result, database.ErrCartItemNotFound)
}

func DeleteCartItem(ctx context.Context, q database.Querier, cartID, productID int64) error {
	result, err := q.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`,
		cartID, productID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return expectOneRow(result, database.ErrCartItemNotFound)
}

func ClearCart(ctx context.Context, q database.Querier, cartID int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// CheckoutCart drops the cart's items and stamps checked_out_at. It succeeds
// at most once per cart.
func CheckoutCart(ctx context.Context, q database.Querier, cartID int64) error {
	if err := ClearCart(ctx, q, cartID); err != nil {
		return err
	}

	result, err := q.ExecContext(ctx,
		`UPDATE carts SET checked_out_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND checked_out_at IS NULL`,
		cartID)
	if err != nil {
		return fmt.Errorf("checkout cart: %w", err)
	}
	return expectOneRow(result, database.ErrCartNotFound)
}
