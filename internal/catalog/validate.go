package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/darktidesresearch/storefront/internal/orders"
)

var ErrInvalidInput = errors.New("invalid input")

type ProductInput struct {
	Name          string           `db:"name"`
	SKU           string           `db:"sku"`
	Price         decimal.Decimal  `db:"price"`
	OldPrice      *decimal.Decimal `db:"old_price"`
	StockQuantity int              `db:"stock_quantity"`
	IsActive      bool             `db:"is_active"`
	DisplayOrder  int              `db:"display_order"`
}

func (in *ProductInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.SKU = strings.ToUpper(strings.TrimSpace(in.SKU))
	var problems []string
	if in.Name == "" {
		problems = append(problems, "name is required")
	}
	if in.SKU == "" {
		problems = append(problems, "sku is required")
	}
	if in.Price.IsNegative() {
		problems = append(problems, "price must not be negative")
	}
	if in.OldPrice != nil && in.OldPrice.IsNegative() {
		problems = append(problems, "old price must not be negative")
	}
	if in.StockQuantity < 0 {
		problems = append(problems, "stock must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	in.Price = in.Price.Round(2)
	return nil
}

func ValidateDiscount(d orders.DiscountCode) error {
	if d.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	if !d.Valid() {
		return fmt.Errorf("%w: %s discount value %s is out of range", ErrInvalidInput, d.DiscountType, d.DiscountValue)
	}
	return nil
}
