package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/darktidesresearch/storefront/internal/orders"
)

var ErrStockBelowReserved = errors.New("stock cannot drop below the quantity currently on hold")

// AdminRepo is the catalog maintenance side: product and discount CRUD for
// operators. Shopper-facing reads and all stock movement go through orders.Repo.
type AdminRepo struct {
	DB *sqlx.DB
}

func NewAdminRepo(db *sqlx.DB) *AdminRepo {
	return &AdminRepo{DB: db}
}

// OpenFromPool exposes a pgx pool through database/sql so sqlx can use it.
func OpenFromPool(pool *pgxpool.Pool) *sqlx.DB {
	return sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
}

func (r *AdminRepo) ListProducts(ctx context.Context, includeInactive bool) ([]orders.Product, error) {
	query := `SELECT * FROM products`
	if !includeInactive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY display_order, name`
	var out []orders.Product
	if err := r.DB.SelectContext(ctx, &out, query); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *AdminRepo) FindProduct(ctx context.Context, idOrSKU string) (orders.Product, error) {
	var p orders.Product
	err := r.DB.GetContext(ctx, &p, `SELECT * FROM products WHERE id = $1 OR sku = $1 LIMIT 1`, idOrSKU)
	if errors.Is(err, sql.ErrNoRows) {
		return p, orders.ErrProductNotFound
	}
	return p, err
}

func (r *AdminRepo) CreateProduct(ctx context.Context, in ProductInput) (orders.Product, error) {
	if err := in.Validate(); err != nil {
		return orders.Product{}, err
	}
	var p orders.Product
	rows, err := r.DB.NamedQueryContext(ctx, `
		INSERT INTO products (name, sku, price, old_price, stock_quantity, is_active, display_order)
		VALUES (:name, :sku, :price, :old_price, :stock_quantity, :is_active, :display_order)
		RETURNING *`, in)
	if err != nil {
		return p, err
	}
	defer rows.Close()
	if !rows.Next() {
		return p, errors.New("insert product: no row returned")
	}
	err = rows.StructScan(&p)
	return p, err
}

// UpdateProduct rewrites the descriptive fields. Stock goes through SetStock.
func (r *AdminRepo) UpdateProduct(ctx context.Context, id string, in ProductInput) (orders.Product, error) {
	if err := in.Validate(); err != nil {
		return orders.Product{}, err
	}
	var p orders.Product
	err := r.DB.GetContext(ctx, &p, `
		UPDATE products
		SET name = $2, sku = $3, price = $4, old_price = $5, is_active = $6, display_order = $7, updated_at = now()
		WHERE id = $1
		RETURNING *`,
		id, in.Name, in.SKU, in.Price, in.OldPrice, in.IsActive, in.DisplayOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return p, orders.ErrProductNotFound
	}
	return p, err
}

func (r *AdminRepo) ToggleProduct(ctx context.Context, id string) (orders.Product, error) {
	var p orders.Product
	err := r.DB.GetContext(ctx, &p, `
		UPDATE products SET is_active = NOT is_active, updated_at = now()
		WHERE id = $1 RETURNING *`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return p, orders.ErrProductNotFound
	}
	return p, err
}

// DeleteProduct removes a product; its open holds go with it. Orders keep
// their own item snapshot.
func (r *AdminRepo) DeleteProduct(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return orders.ErrProductNotFound
	}
	return nil
}

// SetStock sets on-hand stock. The row is locked so a concurrent reservation
// cannot slip in between the check and the write.
func (r *AdminRepo) SetStock(ctx context.Context, id string, stock int) (orders.Product, error) {
	if stock < 0 {
		return orders.Product{}, fmt.Errorf("%w: stock must not be negative", ErrInvalidInput)
	}
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return orders.Product{}, err
	}
	defer tx.Rollback()

	var reserved int
	err = tx.GetContext(ctx, &reserved, `SELECT reserved_quantity FROM products WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Product{}, orders.ErrProductNotFound
	}
	if err != nil {
		return orders.Product{}, err
	}
	if stock < reserved {
		return orders.Product{}, fmt.Errorf("%w (%d on hold)", ErrStockBelowReserved, reserved)
	}
	var p orders.Product
	if err := tx.GetContext(ctx, &p, `
		UPDATE products SET stock_quantity = $2, updated_at = now()
		WHERE id = $1 RETURNING *`, id, stock); err != nil {
		return orders.Product{}, err
	}
	return p, tx.Commit()
}

func (r *AdminRepo) ListDiscounts(ctx context.Context) ([]orders.DiscountCode, error) {
	var out []orders.DiscountCode
	if err := r.DB.SelectContext(ctx, &out, `SELECT * FROM discount_codes ORDER BY created_at DESC`); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *AdminRepo) CreateDiscount(ctx context.Context, d orders.DiscountCode) (orders.DiscountCode, error) {
	d.Code = strings.ToUpper(strings.TrimSpace(d.Code))
	if err := ValidateDiscount(d); err != nil {
		return orders.DiscountCode{}, err
	}
	var out orders.DiscountCode
	err := r.DB.GetContext(ctx, &out, `
		INSERT INTO discount_codes (code, description, discount_type, discount_value, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *`,
		d.Code, d.Description, string(d.DiscountType), d.DiscountValue, d.IsActive)
	return out, err
}

func (r *AdminRepo) ToggleDiscount(ctx context.Context, code string) (orders.DiscountCode, error) {
	var out orders.DiscountCode
	err := r.DB.GetContext(ctx, &out, `
		UPDATE discount_codes SET is_active = NOT is_active
		WHERE lower(code) = lower($1) RETURNING *`, strings.TrimSpace(code))
	if errors.Is(err, sql.ErrNoRows) {
		return out, orders.ErrDiscountNotFound
	}
	return out, err
}
