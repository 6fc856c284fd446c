package orders

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentVenmo  PaymentMethod = "venmo"
	PaymentCrypto PaymentMethod = "crypto"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentVenmo || m == PaymentCrypto
}

type Product struct {
	ID               string           `db:"id" json:"id"`
	Name             string           `db:"name" json:"name"`
	SKU              string           `db:"sku" json:"sku"`
	Price            decimal.Decimal  `db:"price" json:"price"`
	OldPrice         *decimal.Decimal `db:"old_price" json:"old_price,omitempty"`
	StockQuantity    int              `db:"stock_quantity" json:"stock_quantity"`
	ReservedQuantity int              `db:"reserved_quantity" json:"reserved_quantity"`
	IsActive         bool             `db:"is_active" json:"is_active"`
	DisplayOrder     int              `db:"display_order" json:"display_order"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// Available is the quantity a new shopper can still put on hold.
func (p Product) Available() int {
	return p.StockQuantity - p.ReservedQuantity
}

type Reservation struct {
	ID        string    `json:"id"`
	SessionID string    `json:"-"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type ReserveInput struct {
	SessionID string
	ProductID string
	Quantity  int
	ExpiresAt time.Time
}

type CustomerData struct {
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Phone      string `json:"phone,omitempty"`
	Address1   string `json:"address1"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Notes      string `json:"notes,omitempty"`
}

func (c CustomerData) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// OrderItem is the snapshot persisted with the order; later catalog edits do
// not touch it.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	DiscountCode   string          `json:"discount_code,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
}

// Balanced reports whether total = subtotal + shipping - discount and the
// total is not negative.
func (t Totals) Balanced() bool {
	want := t.Subtotal.Add(t.ShippingCost).Sub(t.DiscountAmount)
	return t.Total.Equal(want) && !t.Total.IsNegative()
}

type Order struct {
	ID                 string          `json:"id"`
	OrderNumber        string          `json:"order_number"`
	SessionID          string          `json:"-"`
	Items              []OrderItem     `json:"items"`
	Customer           CustomerData    `json:"customer_data"`
	Totals             Totals          `json:"totals"`
	PaymentMethod      PaymentMethod   `json:"payment_method"`
	PaymentStatus      PaymentStatus   `json:"payment_status"`
	Status             Status          `json:"status"`
	CoinbaseChargeCode string          `json:"coinbase_charge_code,omitempty"`
	ChargeHostedURL    string          `json:"charge_hosted_url,omitempty"`
	PaymentDetails     json.RawMessage `json:"payment_details,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// FinalizeInput is the canonical finalize signature: order number, session,
// customer, items, totals and payment method.
type FinalizeInput struct {
	OrderNumber   string
	SessionID     string
	Customer      CustomerData
	Items         []OrderItem
	Totals        Totals
	PaymentMethod PaymentMethod
}

type FinalizeResult struct {
	Order     Order
	Duplicate bool
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type DiscountCode struct {
	ID            string          `db:"id" json:"id"`
	Code          string          `db:"code" json:"code"`
	Description   string          `db:"description" json:"description"`
	DiscountType  DiscountType    `db:"discount_type" json:"discount_type"`
	DiscountValue decimal.Decimal `db:"discount_value" json:"discount_value"`
	UsageCount    int             `db:"usage_count" json:"usage_count"`
	IsActive      bool            `db:"is_active" json:"is_active"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Valid checks the value constraints of a discount definition.
func (d DiscountCode) Valid() bool {
	if !d.DiscountValue.IsPositive() {
		return false
	}
	switch d.DiscountType {
	case DiscountPercentage:
		return d.DiscountValue.LessThanOrEqual(decimal.NewFromInt(100))
	case DiscountFixed:
		return true
	}
	return false
}

// PaymentEvent is a verified webhook delivery as received from the payment
// processor.
type PaymentEvent struct {
	EventID     string          `json:"event_id"`
	ChargeCode  string          `json:"charge_code"`
	OrderNumber string          `json:"order_number"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	ReceivedAt  time.Time       `json:"received_at"`
}
