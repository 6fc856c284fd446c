package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/darktidesresearch/storefront/internal/orders"
)

// ShippingPolicy charges a flat rate unless the subtotal reaches
// FreeThreshold. A zero threshold disables free shipping.
type ShippingPolicy struct {
	FlatRate      decimal.Decimal
	FreeThreshold decimal.Decimal
}

func (p ShippingPolicy) Cost(subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	if p.FreeThreshold.IsPositive() && subtotal.GreaterThanOrEqual(p.FreeThreshold) {
		return decimal.Zero
	}
	return p.FlatRate
}

// Quote prices items server side. discountAmount must already be capped at
// the subtotal.
func Quote(items []orders.OrderItem, policy ShippingPolicy, discountCode string, discountAmount decimal.Decimal) orders.Totals {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	discountAmount = decimal.Min(decimal.Max(discountAmount, decimal.Zero), subtotal)
	if discountAmount.IsZero() {
		discountCode = ""
	}
	shipping := policy.Cost(subtotal)
	return orders.Totals{
		Subtotal:       subtotal.Round(2),
		ShippingCost:   shipping.Round(2),
		DiscountCode:   discountCode,
		DiscountAmount: discountAmount.Round(2),
		Total:          subtotal.Add(shipping).Sub(discountAmount).Round(2),
	}
}
