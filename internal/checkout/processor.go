package checkout

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
	"github.com/safar/go-checkout/internal/payment"
	"github.com/safar/go-checkout/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultLockTimeout    = 5 * time.Second
	DefaultMaxRetries     = 1
	DefaultPaymentTimeout = 10 * time.Second

	refundTimeout = 10 * time.Second
)

// Processor places and cancels orders. All stock movement happens inside
// one transaction per attempt with the affected product rows locked in
// ascending id order.
type Processor struct {
	db             *sql.DB
	gateway        payment.Gateway
	logger         *zap.Logger
	txOpts         database.TxOptions
	paymentTimeout time.Duration
	now            func() time.Time
	entropy        io.Reader
}

type Option func(*Processor)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithTxOptions replaces the isolation level, lock timeout and retry budget.
func WithTxOptions(opts database.TxOptions) Option {
	return func(p *Processor) {
		p.txOpts = opts
	}
}

func WithPaymentTimeout(d time.Duration) Option {
	return func(p *Processor) {
		p.paymentTimeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// WithEntropy sets the source of order number suffixes.
func WithEntropy(r io.Reader) Option {
	return func(p *Processor) {
		p.entropy = r
	}
}

// DefaultTxOptions is READ COMMITTED plus explicit row locks: a waiter sees
// the stock committed by the previous lock holder instead of aborting with
// a serialization failure.
func DefaultTxOptions() database.TxOptions {
	return database.TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		MaxRetries:     DefaultMaxRetries,
		LockTimeout:    DefaultLockTimeout,
	}
}

func NewProcessor(db *sql.DB, gateway payment.Gateway, opts ...Option) *Processor {
	p := &Processor{
		db:             db,
		gateway:        gateway,
		logger:         zap.NewNop(),
		txOpts:         DefaultTxOptions(),
		paymentTimeout: DefaultPaymentTimeout,
		now:            time.Now,
		entropy:        rand.Reader,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type PlaceOrderRequest struct {
	UserID          int64  `json:"-"`
	ShippingAddress string `json:"shipping_address"`
	PaymentMethod   string `json:"payment_method"`
}

// PlaceOrder turns the user's active cart into an order. On any failure the
// attempt leaves no trace: no order rows, no stock movement and the cart
// still active.
func (p *Processor) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*models.Order, error) {
	address := strings.TrimSpace(req.ShippingAddress)
	if address == "" {
		return nil, ErrInvalidShippingAddress
	}

	method, err := resolveMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	if err := p.precheck(ctx, req.UserID); err != nil {
		return nil, err
	}

	var (
		order   *models.Order
		charged *payment.Receipt
		amount  decimal.Decimal
	)

	opts := p.txOpts
	opts.OnRetry = func(attempt int, err error) {
		p.logger.Warn("retrying order placement",
			zap.Int64("user_id", req.UserID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	// A charged attempt is never run again, even when its commit fails
	// with a retryable error.
	opts.RetryCommit = func() bool { return charged == nil }

	err = database.WithRetry(ctx, p.db, opts, func(tx *sql.Tx) error {
		placed, receipt, err := p.placeInTx(ctx, tx, req.UserID, address, method)
		if receipt != nil {
			charged = receipt
			amount = placed.TotalAmount
		}
		order = placed
		return err
	})
	if err != nil {
		if charged != nil {
			p.refundOrphan(ctx, charged, amount)
		}
		if database.IsRetryable(err) {
			return nil, fmt.Errorf("%w: %w", ErrInventoryBusy, err)
		}
		return nil, err
	}

	p.logger.Info("order placed",
		zap.String("order_number", order.OrderNumber),
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)),
		zap.Int("total_items", order.TotalItems()),
	)

	return order, nil
}

func resolveMethod(raw string) (payment.Method, error) {
	if strings.TrimSpace(raw) == "" {
		return payment.MethodCreditCard, nil
	}
	method, err := payment.ParseMethod(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, raw)
	}
	return method, nil
}

// precheck runs the advisory cart validation outside any transaction.
func (p *Processor) precheck(ctx context.Context, userID int64) error {
	cart, err := store.GetActiveCart(ctx, p.db, userID)
	if err != nil {
		if errors.Is(err, database.ErrCartNotFound) {
			return ErrEmptyCart
		}
		return err
	}

	lines, err := store.ListCartLines(ctx, p.db, cart.ID)
	if err != nil {
		return err
	}

	return ValidateCart(lines)
}

// placeInTx runs one attempt. The receipt is non-nil once the gateway has
// taken the money; every error from that point on is permanent.
func (p *Processor) placeInTx(ctx context.Context, tx *sql.Tx, userID int64, address string, method payment.Method) (*models.Order, *payment.Receipt, error) {
	cart, err := store.LockActiveCart(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, database.ErrCartNotFound) {
			return nil, nil, ErrEmptyCart
		}
		return nil, nil, err
	}

	lines, err := store.ListCartLines(ctx, tx, cart.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(lines) == 0 {
		return nil, nil, ErrEmptyCart
	}

	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}

	products, err := store.LockProducts(ctx, tx, ids)
	if err != nil {
		return nil, nil, err
	}

	for _, line := range lines {
		if err := CheckAvailability(products[line.ProductID], line.Quantity); err != nil {
			return nil, nil, err
		}
	}

	number, err := generateOrderNumber(ctx, p.now(), p.entropy, func(ctx context.Context, candidate string) (bool, error) {
		return store.OrderNumberExists(ctx, tx, candidate)
	})
	if err != nil {
		return nil, nil, err
	}

	order := &models.Order{
		UserID:          userID,
		OrderNumber:     number,
		Status:          models.OrderStatusPending,
		ShippingAddress: address,
		PaymentMethod:   method.String(),
		TotalAmount:     decimal.Zero,
	}

	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		product := products[line.ProductID]
		subtotal := product.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items = append(items, models.OrderItem{
			ProductID:       product.ID,
			ProductName:     product.Name,
			Quantity:        line.Quantity,
			PriceAtPurchase: product.Price,
			Subtotal:        subtotal,
		})
		order.TotalAmount = order.TotalAmount.Add(subtotal)
	}

	if err := store.InsertOrder(ctx, tx, order); err != nil {
		return nil, nil, err
	}

	for i := range items {
		items[i].OrderID = order.ID
		if err := store.InsertOrderItem(ctx, tx, &items[i]); err != nil {
			return nil, nil, err
		}
	}
	order.Items = items

	if err := p.deductStock(ctx, tx, order, products); err != nil {
		return nil, nil, err
	}

	pay := &models.Payment{
		OrderID:       order.ID,
		PaymentMethod: method.String(),
		Amount:        order.TotalAmount,
		Status:        models.PaymentStatusPending,
	}
	if err := store.InsertPayment(ctx, tx, pay); err != nil {
		return nil, nil, err
	}
	order.Payment = pay

	receipt, err := p.charge(ctx, order, method)
	if err != nil {
		return nil, nil, database.Permanent(err)
	}

	if err := p.finalize(ctx, tx, order, cart.ID, receipt); err != nil {
		return order, receipt, database.Permanent(err)
	}

	return order, receipt, nil
}

func (p *Processor) deductStock(ctx context.Context, tx *sql.Tx, order *models.Order, products map[int64]*models.Product) error {
	for _, item := range order.Items {
		product := products[item.ProductID]

		if err := store.DecrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			if errors.Is(err, database.ErrInsufficientStock) {
				return &InsufficientStockError{
					ProductID:   product.ID,
					ProductName: product.Name,
					Requested:   item.Quantity,
					Available:   product.StockQuantity,
				}
			}
			return err
		}

		orderID := order.ID
		err := store.InsertInventoryLog(ctx, tx, &models.InventoryLog{
			ProductID:      product.ID,
			OrderID:        &orderID,
			QuantityBefore: product.StockQuantity,
			QuantityAfter:  product.StockQuantity - item.Quantity,
			ActionType:     models.InventoryActionSale,
			Notes:          "order " + order.OrderNumber,
		})
		if err != nil {
			return err
		}
		product.StockQuantity -= item.Quantity
	}
	return nil
}

// charge returns nil, nil for orders that total zero.
func (p *Processor) charge(ctx context.Context, order *models.Order, method payment.Method) (*payment.Receipt, error) {
	if order.TotalAmount.IsZero() {
		return nil, nil
	}

	chargeCtx, cancel := context.WithTimeout(ctx, p.paymentTimeout)
	defer cancel()

	receipt, err := p.gateway.Charge(chargeCtx, payment.Charge{
		OrderNumber: order.OrderNumber,
		Method:      method,
		Amount:      order.TotalAmount,
	})
	if err != nil {
		p.logger.Warn("payment failed",
			zap.String("order_number", order.OrderNumber),
			zap.String("payment_method", method.String()),
			zap.Bool("declined", payment.IsDeclined(err)),
			zap.Error(err),
		)
		if order.Payment != nil && order.Payment.Status.CanTransitionTo(models.PaymentStatusFailed) {
			order.Payment.Status = models.PaymentStatusFailed
		}
		return nil, &PaymentFailedError{Method: method, Err: err}
	}

	return &receipt, nil
}

func (p *Processor) finalize(ctx context.Context, tx *sql.Tx, order *models.Order, cartID int64, receipt *payment.Receipt) error {
	var txnID string
	if receipt != nil {
		txnID = receipt.TransactionID
	}

	if !models.AmountMatches(order.Payment.Amount, order.TotalAmount) {
		return fmt.Errorf("payment amount %s does not match order total %s", order.Payment.Amount, order.TotalAmount)
	}

	err := store.UpdatePaymentStatus(ctx, tx, order.Payment.ID, models.PaymentStatusPending, models.PaymentStatusCompleted, txnID)
	if err != nil {
		return err
	}
	order.Payment.Status = models.PaymentStatusCompleted
	order.Payment.TransactionID = txnID

	if err := p.transition(ctx, tx, order, models.OrderStatusProcessing); err != nil {
		return err
	}

	return store.CheckoutCart(ctx, tx, cartID)
}

func (p *Processor) transition(ctx context.Context, q database.Querier, order *models.Order, to models.OrderStatus) error {
	if !order.Status.CanTransitionTo(to) {
		return &InvalidStateTransitionError{From: order.Status, To: to}
	}
	if err := store.UpdateOrderStatus(ctx, q, order.ID, order.Status, to); err != nil {
		return err
	}
	order.Status = to
	return nil
}

// refundOrphan returns money taken by an attempt that never committed. A
// failure here needs manual reconciliation, so it is logged at error level.
func (p *Processor) refundOrphan(ctx context.Context, receipt *payment.Receipt, amount decimal.Decimal) {
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refundTimeout)
	defer cancel()

	refund, err := p.gateway.Refund(refundCtx, payment.Refund{
		TransactionID: receipt.TransactionID,
		Amount:        amount,
	})
	if err != nil {
		p.logger.Error("refund of uncommitted charge failed",
			zap.String("transaction_id", receipt.TransactionID),
			zap.String("amount", amount.StringFixed(2)),
			zap.Error(err),
		)
		return
	}

	p.logger.Warn("refunded uncommitted charge",
		zap.String("transaction_id", receipt.TransactionID),
		zap.String("refund_id", refund.TransactionID),
	)
}
