package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darktidesresearch/storefront/internal/orders"
)

func TestRunInteractive_MenuAndFreeForm(t *testing.T) {
	in := strings.NewReader("2\nBPC-5\n40\nproducts list --all\n99\nq\n")
	var out bytes.Buffer
	var calls [][]string
	err := runInteractive(in, &out, func(args []string) error {
		calls = append(calls, args)
		if args[0] == "99" {
			return errors.New("unknown command")
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"products", "stock", "BPC-5", "40"}, calls[0])
	assert.Equal(t, []string{"products", "list", "--all"}, calls[1])
	assert.Equal(t, []string{"99"}, calls[2])
	assert.Contains(t, out.String(), "Error: unknown command")
}

func TestRunInteractive_EndOfInput(t *testing.T) {
	var out bytes.Buffer
	err := runInteractive(strings.NewReader("3\n"), &out, func([]string) error {
		t.Fatal("no command should run without an answer")
		return nil
	})
	assert.NoError(t, err)
}

func TestParseChoice(t *testing.T) {
	n, err := parseChoice("1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, s := range []string{"0", "12x", "x", "-1", "100"} {
		_, err := parseChoice(s)
		assert.ErrorIs(t, err, errNotAChoice, s)
	}
}

func TestProductFlags_EditKeepsUnsetFields(t *testing.T) {
	old := decimal.RequireFromString("80")
	cur := orders.Product{Name: "BPC-157", SKU: "BPC-5", Price: decimal.RequireFromString("64.99"), OldPrice: &old, StockQuantity: 7, IsActive: true, DisplayOrder: 3}

	f := productFlags{price: "59.5", changed: func(name string) bool { return name == "price" }}
	in, err := f.input(&cur)
	require.NoError(t, err)
	assert.Equal(t, "BPC-157", in.Name)
	assert.Equal(t, "59.50", in.Price.StringFixed(2))
	require.NotNil(t, in.OldPrice)
	assert.Equal(t, 3, in.DisplayOrder)
	assert.Equal(t, 7, in.StockQuantity)

	f = productFlags{changed: func(name string) bool { return name == "old-price" }}
	in, err = f.input(&cur)
	require.NoError(t, err)
	assert.Nil(t, in.OldPrice, "empty --old-price clears it")

	f = productFlags{price: "-1", changed: func(string) bool { return true }}
	_, err = f.input(&cur)
	assert.Error(t, err)
}

func TestPrinters(t *testing.T) {
	var buf bytes.Buffer
	printProducts(&buf, []orders.Product{{ID: "p1", SKU: "BPC-5", Name: "BPC-157", Price: decimal.RequireFromString("64.99"), StockQuantity: 5, ReservedQuantity: 2, IsActive: true}})
	assert.Contains(t, buf.String(), "64.99")
	assert.Regexp(t, `BPC-5\s+BPC-157\s+64.99\s+5\s+2\s+3\s+active`, buf.String())

	buf.Reset()
	printDiscounts(&buf, []orders.DiscountCode{
		{Code: "TEN", DiscountType: orders.DiscountPercentage, DiscountValue: decimal.NewFromInt(10), IsActive: true},
		{Code: "FIVE", DiscountType: orders.DiscountFixed, DiscountValue: decimal.NewFromInt(5)},
	})
	assert.Contains(t, buf.String(), "10% off")
	assert.Contains(t, buf.String(), "$5.00 off")

	buf.Reset()
	printOrder(&buf, orders.Order{
		OrderNumber: "DT-ABC123", Status: orders.StatusPending, PaymentStatus: orders.PaymentPending, PaymentMethod: orders.PaymentVenmo,
		Customer:  orders.CustomerData{Email: "ada@example.com", FirstName: "Ada", LastName: "L"},
		Items:     []orders.OrderItem{{Name: "BPC-157", SKU: "BPC-5", UnitPrice: decimal.RequireFromString("64.99"), Quantity: 2}},
		Totals:    orders.Totals{Total: decimal.RequireFromString("139.98"), DiscountCode: "TEN", DiscountAmount: decimal.RequireFromString("13.00")},
		CreatedAt: time.Now(),
	})
	assert.Contains(t, buf.String(), "2x BPC-157 (BPC-5) @ 64.99")
	assert.Contains(t, buf.String(), "code TEN, -13.00")
}
