package repositories

import "fmt"

// StockErrorCode enumerates why a stock adjustment was refused.
type StockErrorCode string

const (
	StockErrorNotFound     StockErrorCode = "stock_product_not_found"
	StockErrorInactive     StockErrorCode = "stock_product_inactive"
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
)

// StockError reports the first line of a stock adjustment that could not be applied.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID string
	Requested int
	Available int
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s for product %s", e.Code, e.ProductID)
	if e.Code == StockErrorInsufficient {
		msg = fmt.Sprintf("%s (requested %d, available %d)", msg, e.Requested, e.Available)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(op string, code StockErrorCode, productID string, requested, available int) *StockError {
	return &StockError{
		Op:        op,
		Code:      code,
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

// CheckStock classifies whether product can give up qty units. It returns nil when it can.
func CheckStock(op string, productID string, exists, active bool, stock, qty int) *StockError {
	switch {
	case !exists:
		return NewStockError(op, StockErrorNotFound, productID, qty, 0)
	case !active:
		return NewStockError(op, StockErrorInactive, productID, qty, stock)
	case stock < qty:
		return NewStockError(op, StockErrorInsufficient, productID, qty, stock)
	}
	return nil
}
