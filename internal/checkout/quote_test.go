package checkout

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/darktidesresearch/storefront/internal/orders"
)

func TestQuote(t *testing.T) {
	policy := ShippingPolicy{FlatRate: decimal.NewFromInt(10), FreeThreshold: decimal.NewFromInt(200)}
	item := func(price string, qty int) orders.OrderItem {
		return orders.OrderItem{UnitPrice: decimal.RequireFromString(price), Quantity: qty}
	}

	cases := []struct {
		name     string
		items    []orders.OrderItem
		discount string
		want     [4]string // subtotal, shipping, discount, total
	}{
		{"flat shipping", []orders.OrderItem{item("40.00", 1), item("30.00", 2)}, "0", [4]string{"100", "10", "0", "110"}},
		{"free at threshold", []orders.OrderItem{item("100.00", 2)}, "0", [4]string{"200", "0", "0", "200"}},
		{"fixed discount capped", []orders.OrderItem{item("8.00", 1)}, "10", [4]string{"8", "10", "8", "10"}},
		{"empty cart", nil, "0", [4]string{"0", "0", "0", "0"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Quote(c.items, policy, "CODE", decimal.RequireFromString(c.discount))
			assert.True(t, got.Subtotal.Equal(decimal.RequireFromString(c.want[0])), "subtotal %s", got.Subtotal)
			assert.True(t, got.ShippingCost.Equal(decimal.RequireFromString(c.want[1])), "shipping %s", got.ShippingCost)
			assert.True(t, got.DiscountAmount.Equal(decimal.RequireFromString(c.want[2])), "discount %s", got.DiscountAmount)
			assert.True(t, got.Total.Equal(decimal.RequireFromString(c.want[3])), "total %s", got.Total)
			assert.True(t, got.Balanced())
		})
	}
}

func TestQuote_NoThreshold(t *testing.T) {
	policy := ShippingPolicy{FlatRate: decimal.NewFromInt(10)}
	got := Quote([]orders.OrderItem{{UnitPrice: decimal.NewFromInt(500), Quantity: 1}}, policy, "", decimal.Zero)
	assert.True(t, got.ShippingCost.Equal(decimal.NewFromInt(10)))
}

func TestOrderNumber(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		n, err := NewOrderNumber()
		assert.NoError(t, err)
		assert.True(t, ValidOrderNumber(n), n)
		seen[n] = true
	}
	assert.Greater(t, len(seen), 190)

	for _, bad := range []string{"DT-abc123", "DT-ABC12", "XX-ABC123", "DT-ABC1234"} {
		assert.False(t, ValidOrderNumber(bad), bad)
	}
}
