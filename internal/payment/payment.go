package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodCreditCard   Method = "credit_card"
	MethodDebitCard    Method = "debit_card"
	MethodPayPal       Method = "paypal"
	MethodBankTransfer Method = "bank_transfer"
)

var Methods = []Method{MethodCreditCard, MethodDebitCard, MethodPayPal, MethodBankTransfer}

var (
	ErrUnsupportedMethod  = errors.New("unsupported payment method")
	ErrInvalidAmount      = errors.New("payment amount must be positive")
	ErrMissingTransaction = errors.New("refund requires a transaction id")
)

func ParseMethod(s string) (Method, error) {
	for _, m := range Methods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
}

func (m Method) IsCard() bool {
	return m == MethodCreditCard || m == MethodDebitCard
}

func (m Method) String() string {
	return string(m)
}

type Charge struct {
	OrderNumber string
	Method      Method
	Amount      decimal.Decimal
}

type Refund struct {
	TransactionID string
	Amount        decimal.Decimal
}

type Receipt struct {
	TransactionID string
	Message       string
}

// Gateway moves money. Charge returns a *DeclinedError when the provider
// refuses the payment; any other error means the outcome is unknown.
type Gateway interface {
	Charge(ctx context.Context, charge Charge) (Receipt, error)
	Refund(ctx context.Context, refund Refund) (Receipt, error)
}

type DeclinedError struct {
	Method Method
	Reason string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("%s payment declined: %s", e.Method, e.Reason)
}

func IsDeclined(err error) bool {
	var declined *DeclinedError
	return errors.As(err, &declined)
}
