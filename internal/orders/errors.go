package orders

import "errors"

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrPriceChanged       = errors.New("product price changed")
	ErrReservationMissing = errors.New("reservation not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidTransition  = errors.New("invalid order transition")
	ErrDiscountNotFound   = errors.New("discount code not found")
	ErrChargeConflict     = errors.New("order already has a different charge")
	ErrEmptyCart          = errors.New("cart is empty")
)

// IsAvailabilityConflict reports errors that must be surfaced to shoppers as
// the generic "temporarily unavailable" message.
func IsAvailabilityConflict(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrProductUnavailable) ||
		errors.Is(err, ErrInsufficientStock)
}
