package checkout

import "github.com/safar/go-checkout/internal/models"

// ValidateCart fails fast on carts that cannot possibly be ordered. It reads
// unlocked product rows, so passing it guarantees nothing about the
// authoritative check made under lock.
func ValidateCart(lines []models.CartLine) error {
	if len(lines) == 0 {
		return ErrEmptyCart
	}

	for _, line := range lines {
		if err := CheckAvailability(&line.Product, line.Quantity); err != nil {
			return err
		}
	}

	return nil
}

// CheckAvailability reports whether quantity units of product may be sold.
func CheckAvailability(product *models.Product, quantity int) error {
	if !product.Available() {
		return &ProductUnavailableError{ProductID: product.ID, Name: product.Name}
	}
	if !product.SufficientStock(quantity) {
		return &InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Requested:   quantity,
			Available:   product.StockQuantity,
		}
	}
	return nil
}
