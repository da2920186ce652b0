package checkout

import (
	"errors"
	"fmt"

	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
	"github.com/safar/go-checkout/internal/payment"
)

var (
	ErrEmptyCart              = errors.New("cart is empty")
	ErrInvalidShippingAddress = errors.New("shipping address is required")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrOrderNotFound          = errors.New("order not found")
	// ErrInventoryBusy means the product locks stayed contended through
	// every retry. The caller may resubmit.
	ErrInventoryBusy = errors.New("inventory is busy, please try again")
)

type ProductUnavailableError struct {
	ProductID int64
	Name      string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("%s is no longer available", e.Name)
}

type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, only %d available",
		e.ProductName, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == database.ErrInsufficientStock
}

type InvalidStateTransitionError struct {
	From models.OrderStatus
	To   models.OrderStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

type PaymentFailedError struct {
	Method payment.Method
	Err    error
}

func (e *PaymentFailedError) Error() string {
	return fmt.Sprintf("payment failed: %v", e.Err)
}

func (e *PaymentFailedError) Unwrap() error {
	return e.Err
}
