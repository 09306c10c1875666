package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanko-field/commerce/internal/repositories"
)

var (
	// ErrInvalidArgument signals malformed caller input.
	ErrInvalidArgument = errors.New("commerce: invalid argument")
	// ErrInvalidStatus signals an order status name outside the closed set.
	ErrInvalidStatus = errors.New("order: invalid status")

	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = errors.New("product: not found")
	// ErrProductInactive indicates the product is not sellable.
	ErrProductInactive = errors.New("product: inactive")
	// ErrInsufficientStock indicates the requested quantity exceeds stock.
	ErrInsufficientStock = errors.New("product: insufficient stock")

	// ErrCartItemNotFound indicates the cart item does not exist for the user.
	ErrCartItemNotFound = errors.New("cart: item not found")

	// ErrOrderNotFound indicates the order does not exist or is hidden from the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrInvalidTransition indicates the lifecycle table forbids the requested status change.
	ErrInvalidTransition = errors.New("order: invalid status transition")

	// ErrAddressNotFound indicates the address does not exist for the user.
	ErrAddressNotFound = errors.New("address: not found")
	// ErrAddressNotOwned indicates an order referenced an address of another user.
	ErrAddressNotOwned = errors.New("address: not owned by user")

	ErrVoucherNotFound    = errors.New("voucher: not found")
	ErrVoucherInactive    = errors.New("voucher: inactive")
	ErrVoucherOutOfWindow = errors.New("voucher: outside validity window")
	ErrVoucherExhausted   = errors.New("voucher: usage limit reached")
	ErrUserLimitReached   = errors.New("voucher: per-user limit reached")
	ErrNoItemsSelected    = errors.New("voucher: no items selected")
	ErrNoEligibleItems    = errors.New("voucher: no eligible items")
	ErrBelowMinimumOrder  = errors.New("voucher: below minimum order value")
)

// ErrorKind is the coarse class an error belongs to. Handlers map kinds to HTTP statuses.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindInvalidOperation
	KindInvalidArgument
	KindConflict
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidOperation:
		return "invalid_operation"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

var (
	notFoundErrors = []error{
		ErrProductNotFound, ErrCartItemNotFound, ErrOrderNotFound,
		ErrAddressNotFound, ErrAddressNotOwned, ErrVoucherNotFound,
	}
	invalidOperationErrors = []error{
		ErrInsufficientStock, ErrProductInactive, ErrVoucherInactive, ErrVoucherOutOfWindow,
		ErrVoucherExhausted, ErrUserLimitReached, ErrNoItemsSelected, ErrNoEligibleItems,
		ErrBelowMinimumOrder, ErrInvalidTransition,
	}
	invalidArgumentErrors = []error{ErrInvalidArgument, ErrInvalidStatus}
)

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return KindNotFound
		}
	}
	for _, target := range invalidOperationErrors {
		if errors.Is(err, target) {
			return KindInvalidOperation
		}
	}
	for _, target := range invalidArgumentErrors {
		if errors.Is(err, target) {
			return KindInvalidArgument
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return KindNotFound
		case repoErr.IsConflict():
			return KindConflict
		case repoErr.IsUnavailable():
			return KindUnavailable
		}
	}
	return KindInternal
}

// VoucherError reports a failed voucher check. Ineligible lists the lines that could not take the
// discount when the failure is ErrNoEligibleItems.
type VoucherError struct {
	Err        error
	Code       string
	Ineligible []IneligibleItem
}

func (e *VoucherError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("%v (code %s)", e.Err, e.Code)
	}
	return e.Err.Error()
}

func (e *VoucherError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newVoucherError(err error, code string) *VoucherError {
	return &VoucherError{Err: err, Code: code}
}

// mapStockError turns a repository stock failure into the matching sentinel. Other errors pass
// through.
func mapStockError(err error) error {
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) {
		return err
	}
	switch stockErr.Code {
	case repositories.StockErrorNotFound:
		return fmt.Errorf("%w: %s", ErrProductNotFound, stockErr.ProductID)
	case repositories.StockErrorInactive:
		return fmt.Errorf("%w: %s", ErrProductInactive, stockErr.ProductID)
	case repositories.StockErrorInsufficient:
		return fmt.Errorf("%w: product %s requested %d, available %d", ErrInsufficientStock, stockErr.ProductID, stockErr.Requested, stockErr.Available)
	}
	return err
}

// mapNotFound replaces a repository not-found error with sentinel, keeping the cause in the message.
func mapNotFound(err error, sentinel error) error {
	if err == nil {
		return nil
	}
	if isRepoNotFound(err) {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
