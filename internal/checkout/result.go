package checkout

import (
	"context"
	"errors"

	"github.com/safar/go-checkout/internal/logger"
	"github.com/safar/go-checkout/internal/models"
	"go.uber.org/zap"
)

type ErrorKind string

const (
	KindEmptyCart              ErrorKind = "empty_cart"
	KindInvalidShippingAddress ErrorKind = "invalid_shipping_address"
	KindInvalidPaymentMethod   ErrorKind = "invalid_payment_method"
	KindProductUnavailable     ErrorKind = "product_unavailable"
	KindInsufficientStock      ErrorKind = "insufficient_stock"
	KindInvalidStateTransition ErrorKind = "invalid_state_transition"
	KindPaymentFailed          ErrorKind = "payment_failed"
	KindInventoryBusy          ErrorKind = "inventory_busy"
	KindNotFound               ErrorKind = "not_found"
)

// Result is what callers of Checkout and Cancel see instead of raw errors.
type Result struct {
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Message string        `json:"message,omitempty"`
	Kind    ErrorKind     `json:"kind,omitempty"`
	Order   *models.Order `json:"order,omitempty"`
}

// Checkout places the order and reports domain failures as an unsuccessful
// Result. Only unexpected errors are returned.
func (p *Processor) Checkout(ctx context.Context, req PlaceOrderRequest) (*Result, error) {
	order, err := p.PlaceOrder(ctx, req)
	if err != nil {
		return p.failure(ctx, "order placement failed", err)
	}
	return &Result{Success: true, Message: "Order placed successfully", Order: order}, nil
}

func (p *Processor) Cancel(ctx context.Context, userID, orderID int64) (*Result, error) {
	order, err := p.CancelOrder(ctx, userID, orderID)
	if err != nil {
		return p.failure(ctx, "order cancellation failed", err)
	}
	return &Result{Success: true, Message: "Order cancelled successfully", Order: order}, nil
}

func (p *Processor) failure(ctx context.Context, msg string, err error) (*Result, error) {
	if result, ok := Failure(err); ok {
		return result, nil
	}
	logger.FromContext(ctx, p.logger).Error(msg, zap.Error(err))
	return nil, err
}

// Failure maps a domain error to its Result. It reports false for errors
// that are not part of the checkout taxonomy.
func Failure(err error) (*Result, bool) {
	var (
		unavailable *ProductUnavailableError
		stock       *InsufficientStockError
		transition  *InvalidStateTransitionError
		paymentErr  *PaymentFailedError
	)

	switch {
	case errors.Is(err, ErrEmptyCart):
		return fail(KindEmptyCart, "Cart is empty", "Please add items to cart before checkout"), true
	case errors.Is(err, ErrInvalidShippingAddress):
		return fail(KindInvalidShippingAddress, "Shipping address is required", err.Error()), true
	case errors.Is(err, ErrInvalidPaymentMethod):
		return fail(KindInvalidPaymentMethod, "Invalid payment method", err.Error()), true
	case errors.As(err, &unavailable):
		return fail(KindProductUnavailable, "Product unavailable", unavailable.Error()), true
	case errors.As(err, &stock):
		return fail(KindInsufficientStock, "Insufficient stock", stock.Error()), true
	case errors.As(err, &transition):
		return fail(KindInvalidStateTransition, "Invalid state transition", transition.Error()), true
	case errors.As(err, &paymentErr):
		return fail(KindPaymentFailed, "Payment failed", "Your payment could not be processed"), true
	case errors.Is(err, ErrInventoryBusy):
		return fail(KindInventoryBusy, "Inventory busy", ErrInventoryBusy.Error()), true
	case errors.Is(err, ErrOrderNotFound):
		return fail(KindNotFound, "Order not found", err.Error()), true
	}
	return nil, false
}

func fail(kind ErrorKind, title, message string) *Result {
	return &Result{Success: false, Kind: kind, Error: title, Message: message}
}
