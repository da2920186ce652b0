package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
	"github.com/safar/go-checkout/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedUniqueIDs(t *testing.T) {
	assert.Equal(t, []int64{1, 3, 7}, SortedUniqueIDs([]int64{7, 3, 7, 1, 3}))
	assert.Empty(t, SortedUniqueIDs(nil))
}

func TestCursorRoundTrip(t *testing.T) {
	in := OrderCursor{CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ID: 42}

	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)

	first, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Equal(t, FirstPage, first)
	assert.True(t, first.CreatedAt.After(time.Now().AddDate(100, 0, 0)), "sorts after orders stamped by a skewed clock")

	again, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	_, err = DecodeCursor("%%%")
	assert.Error(t, err)
}

func TestProductLifecycle(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product, err := CreateProduct(ctx, db, "SKU-1", "Lamp", "desk lamp", decimal.RequireFromString("19.99"), 4)
	require.NoError(t, err)
	assert.True(t, product.Available())

	require.NoError(t, DecrementStock(ctx, db, product.ID, 3))
	assert.ErrorIs(t, DecrementStock(ctx, db, product.ID, 2), database.ErrInsufficientStock)
	require.NoError(t, IncrementStock(ctx, db, product.ID, 5))

	require.NoError(t, SetProductAvailability(ctx, db, product.ID, true, true))
	got, err := GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.StockQuantity)
	assert.False(t, got.Available())

	require.NoError(t, SoftDeleteProduct(ctx, db, product.ID))
	assert.ErrorIs(t, SoftDeleteProduct(ctx, db, product.ID), database.ErrProductNotFound)

	page, err := ListProducts(ctx, db, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), page.Total)

	_, err = GetProduct(ctx, db, 9999)
	assert.ErrorIs(t, err, database.ErrProductNotFound)
}

func TestStockCannotGoNegative(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product, err := CreateProduct(ctx, db, "SKU-N", "Mug", "", decimal.NewFromInt(5), 1)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE products SET stock_quantity = -1 WHERE id = $1`, product.ID)
	assert.Error(t, err)
}

func TestCartOperations(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user, err := CreateUser(ctx, db, "cart@example.com", "Cart User")
	require.NoError(t, err)
	a, err := CreateProduct(ctx, db, "SKU-A", "A", "", decimal.NewFromInt(10), 10)
	require.NoError(t, err)
	b, err := CreateProduct(ctx, db, "SKU-B", "B", "", decimal.NewFromInt(5), 10)
	require.NoError(t, err)

	cart, err := GetOrCreateActiveCart(ctx, db, user.ID)
	require.NoError(t, err)
	again, err := GetOrCreateActiveCart(ctx, db, user.ID)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, again.ID)

	_, err = AddCartItem(ctx, db, cart.ID, b.ID, 1)
	require.NoError(t, err)
	_, err = AddCartItem(ctx, db, cart.ID, a.ID, 1)
	require.NoError(t, err)
	item, err := AddCartItem(ctx, db, cart.ID, a.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, item.Quantity)

	lines, err := ListCartLines(ctx, db, cart.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, a.ID, lines[0].ProductID)
	cart.Items = lines
	assert.True(t, cart.TotalAmount().Equal(decimal.NewFromInt(35)))
	assert.Equal(t, 4, cart.TotalItems())

	require.NoError(t, SetCartItemQuantity(ctx, db, cart.ID, a.ID, 1))
	require.NoError(t, DeleteCartItem(ctx, db, cart.ID, b.ID))
	assert.ErrorIs(t, DeleteCartItem(ctx, db, cart.ID, b.ID), database.ErrCartItemNotFound)

	require.NoError(t, CheckoutCart(ctx, db, cart.ID))
	assert.ErrorIs(t, CheckoutCart(ctx, db, cart.ID), database.ErrCartNotFound)

	_, err = GetActiveCart(ctx, db, user.ID)
	assert.ErrorIs(t, err, database.ErrCartNotFound)

	fresh, err := GetOrCreateActiveCart(ctx, db, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, cart.ID, fresh.ID)
}

func seedOrder(t *testing.T, db *sql.DB, userID int64, number string) *models.Order {
	t.Helper()
	order := &models.Order{
		UserID:          userID,
		OrderNumber:     number,
		Status:          models.OrderStatusPending,
		TotalAmount:     decimal.NewFromInt(10),
		ShippingAddress: "1 Main St",
		PaymentMethod:   "paypal",
	}
	require.NoError(t, InsertOrder(context.Background(), db, order))
	return order
}

func TestOrdersAndPayments(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user, err := CreateUser(ctx, db, "orders@example.com", "Order User")
	require.NoError(t, err)
	product, err := CreateProduct(ctx, db, "SKU-O", "O", "", decimal.NewFromInt(10), 10)
	require.NoError(t, err)

	order := seedOrder(t, db, user.ID, "ORD-20240101-000001")
	require.NoError(t, InsertOrderItem(ctx, db, &models.OrderItem{
		OrderID:         order.ID,
		ProductID:       product.ID,
		ProductName:     product.Name,
		Quantity:        1,
		PriceAtPurchase: product.Price,
		Subtotal:        product.Price,
	}))

	exists, err := OrderNumberExists(ctx, db, order.OrderNumber)
	require.NoError(t, err)
	assert.True(t, exists)

	dup := &models.Order{UserID: user.ID, OrderNumber: order.OrderNumber, Status: models.OrderStatusPending, ShippingAddress: "x", PaymentMethod: "paypal"}
	err = InsertOrder(ctx, db, dup)
	require.Error(t, err)
	assert.True(t, database.IsRetryable(err), "order number collisions are retried")

	pay := &models.Payment{OrderID: order.ID, PaymentMethod: "paypal", Amount: order.TotalAmount, Status: models.PaymentStatusPending}
	require.NoError(t, InsertPayment(ctx, db, pay))
	require.NoError(t, UpdatePaymentStatus(ctx, db, pay.ID, models.PaymentStatusPending, models.PaymentStatusCompleted, "TXN-1-ABCDEF01"))
	assert.ErrorIs(t,
		UpdatePaymentStatus(ctx, db, pay.ID, models.PaymentStatusPending, models.PaymentStatusFailed, ""),
		database.ErrStaleStatus)

	require.NoError(t, UpdateOrderStatus(ctx, db, order.ID, models.OrderStatusPending, models.OrderStatusProcessing))
	assert.ErrorIs(t,
		UpdateOrderStatus(ctx, db, order.ID, models.OrderStatusPending, models.OrderStatusCancelled),
		database.ErrStaleStatus)

	got, err := GetOrder(ctx, db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, got.Status)
	require.Len(t, got.Items, 1)
	require.NotNil(t, got.Payment)
	assert.Equal(t, "TXN-1-ABCDEF01", got.Payment.TransactionID)
	assert.Equal(t, models.PaymentStatusCompleted, got.Payment.Status)

	_, err = GetOrder(ctx, db, 9999)
	assert.ErrorIs(t, err, database.ErrOrderNotFound)
}

func TestListOrdersCursor(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user, err := CreateUser(ctx, db, "pages@example.com", "Pager")
	require.NoError(t, err)
	for _, n := range []string{"000001", "000002", "000003", "000004", "000005"} {
		seedOrder(t, db, user.ID, "ORD-20240101-"+n)
	}

	seen := map[int64]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := ListOrdersCursor(ctx, db, user.ID, cursor, 2)
		require.NoError(t, err)
		pages++
		for _, o := range page.Items.([]models.Order) {
			assert.False(t, seen[o.ID], "order %d returned twice", o.ID)
			seen[o.ID] = true
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	assert.Len(t, seen, 5)
	assert.Equal(t, 3, pages)

	n, err := CountOrdersForUser(ctx, db, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestAdjustStock(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product, err := CreateProduct(ctx, db, "SKU-ADJ", "Adj", "", decimal.NewFromInt(1), 5)
	require.NoError(t, err)

	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		_, err := AdjustStock(ctx, tx, product.ID, 3, "recount")
		return err
	})
	require.NoError(t, err)

	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		_, err := AdjustStock(ctx, tx, product.ID, -9, "shrinkage")
		return err
	})
	assert.True(t, errors.Is(err, database.ErrNegativeStock))

	got, err := GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.StockQuantity)

	logs, err := ListInventoryLogs(ctx, db, product.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.InventoryActionAdjustment, logs[0].ActionType)
	assert.Equal(t, 5, logs[0].QuantityBefore)
	assert.Equal(t, 8, logs[0].QuantityAfter)
	assert.Nil(t, logs[0].OrderID)
	assert.Equal(t, "recount", logs[0].Notes)
}

func TestLockProductNoWaitFailsFast(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product, err := CreateProduct(ctx, db, "SKU-L", "Locked", "", decimal.NewFromInt(1), 1)
	require.NoError(t, err)

	holder, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer holder.Rollback()
	_, err = LockProduct(ctx, holder, product.ID)
	require.NoError(t, err)

	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		_, err := LockProductNoWait(ctx, tx, product.ID)
		return err
	})
	assert.ErrorIs(t, err, database.ErrLockTimeout)

	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		_, err := AdjustStock(ctx, tx, product.ID, 1, "recount")
		return err
	})
	assert.ErrorIs(t, err, database.ErrLockTimeout)

	opts := database.DefaultTxOptions()
	opts.LockTimeout = 50 * time.Millisecond
	err = database.WithTransaction(ctx, db, opts, func(tx *sql.Tx) error {
		_, err := LockProduct(ctx, tx, product.ID)
		return err
	})
	assert.True(t, database.IsLockTimeout(err))
}
