package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusCancelled Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:   {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

type PaymentStatus string

const (
	// venmo
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"

	// crypto
	PaymentPendingCrypto       PaymentStatus = "pending_crypto"
	PaymentPendingConfirmation PaymentStatus = "pending_confirmation"
	PaymentConfirmed           PaymentStatus = "confirmed"
	PaymentFailed              PaymentStatus = "failed"
	PaymentExpired             PaymentStatus = "expired"
	// PaymentNeedsReview is a payment that arrived for a cancelled order
	// whose stock was no longer there; an operator refunds or ships by hand.
	PaymentNeedsReview PaymentStatus = "needs_review"
)

func InitialPaymentStatus(m PaymentMethod) PaymentStatus {
	if m == PaymentCrypto {
		return PaymentPendingCrypto
	}
	return PaymentPending
}

// cryptoRank orders the crypto payment states; a charge only ever moves to a
// higher rank. Failed and expired rank below confirmed because the processor
// still reports a payment that lands after the charge expired.
var cryptoRank = map[PaymentStatus]int{
	PaymentPendingCrypto:       0,
	PaymentPendingConfirmation: 1,
	PaymentFailed:              2,
	PaymentExpired:             2,
	PaymentConfirmed:           3,
	PaymentNeedsReview:         3,
}

func CanAdvancePayment(from, to PaymentStatus) bool {
	rf, ok := cryptoRank[from]
	if !ok {
		return false
	}
	rt, ok := cryptoRank[to]
	if !ok {
		return false
	}
	return rt > rf
}

// Rank is the position of a crypto payment status in the forward-only
// sequence, or -1 for non-crypto statuses.
func (p PaymentStatus) Rank() int {
	if r, ok := cryptoRank[p]; ok {
		return r
	}
	return -1
}

func (p PaymentStatus) Terminal() bool {
	switch p {
	case PaymentCompleted, PaymentConfirmed, PaymentNeedsReview, PaymentFailed, PaymentExpired:
		return true
	}
	return false
}
