package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

const productColumns = `id, name, sku, price, old_price, stock_quantity, reserved_quantity, is_active, display_order, created_at, updated_at`

const orderColumns = `id, order_number, session_id, items, customer_data, subtotal, shipping_cost, discount_code,
	discount_amount, total, payment_method, payment_status, status, coinbase_charge_code, charge_hosted_url,
	payment_details, created_at, updated_at`

var errOrderNumberTaken = errors.New("order number taken concurrently")

const uniqueViolation = "23505"

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Price, &p.OldPrice, &p.StockQuantity, &p.ReservedQuantity,
		&p.IsActive, &p.DisplayOrder, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o            Order
		discountCode *string
		chargeCode   *string
		hostedURL    *string
		details      []byte
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.SessionID, &o.Items, &o.Customer, &o.Totals.Subtotal,
		&o.Totals.ShippingCost, &discountCode, &o.Totals.DiscountAmount, &o.Totals.Total, &o.PaymentMethod,
		&o.PaymentStatus, &o.Status, &chargeCode, &hostedURL, &details, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if discountCode != nil {
		o.Totals.DiscountCode = *discountCode
	}
	if chargeCode != nil {
		o.CoinbaseChargeCode = *chargeCode
	}
	if hostedURL != nil {
		o.ChargeHostedURL = *hostedURL
	}
	if len(details) > 0 {
		o.PaymentDetails = json.RawMessage(details)
	}
	return o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productColumns+` FROM products
	                              WHERE is_active ORDER BY display_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *Repo) ProductsByIDs(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.DB.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *Repo) FindDiscount(ctx context.Context, code string) (DiscountCode, error) {
	var d DiscountCode
	err := r.DB.QueryRow(ctx, `
		SELECT id, code, description, discount_type, discount_value, usage_count, is_active, created_at
		FROM discount_codes WHERE lower(code) = lower($1)`, strings.TrimSpace(code)).
		Scan(&d.ID, &d.Code, &d.Description, &d.DiscountType, &d.DiscountValue, &d.UsageCount, &d.IsActive, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DiscountCode{}, ErrDiscountNotFound
	}
	return d, err
}

func (r *Repo) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	return getOrder(ctx, r.DB, `order_number=$1`, orderNumber)
}

func (r *Repo) FindOrderByCharge(ctx context.Context, chargeCode string) (Order, error) {
	return getOrder(ctx, r.DB, `coinbase_charge_code=$1`, chargeCode)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getOrder(ctx context.Context, q querier, where string, arg any) (Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

func (r *Repo) ListOrders(ctx context.Context, status Status, limit int) ([]Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
	                              WHERE ($1 = '' OR status = $1)
	                              ORDER BY created_at DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Finalize converts a session's cart into a committed order in one
// transaction. Re-finalizing an order number returns the stored order with
// Duplicate set and changes nothing.
func (r *Repo) Finalize(ctx context.Context, in FinalizeInput) (FinalizeResult, error) {
	if len(in.Items) == 0 {
		return FinalizeResult{}, ErrEmptyCart
	}
	if existing, err := r.GetOrderByNumber(ctx, in.OrderNumber); err == nil {
		return FinalizeResult{Order: existing, Duplicate: true}, nil
	} else if !errors.Is(err, ErrOrderNotFound) {
		return FinalizeResult{}, err
	}

	order, err := r.finalizeTx(ctx, in)
	if errors.Is(err, errOrderNumberTaken) {
		existing, err := r.GetOrderByNumber(ctx, in.OrderNumber)
		if err != nil {
			return FinalizeResult{}, err
		}
		return FinalizeResult{Order: existing, Duplicate: true}, nil
	}
	if err != nil {
		return FinalizeResult{}, err
	}
	return FinalizeResult{Order: order}, nil
}

func (r *Repo) finalizeTx(ctx context.Context, in FinalizeInput) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Session holds are locked first so the sweeper cannot release them
	// underneath us; lock order reservations -> products matches the sweeper.
	// Only the holds read here are consumed: a hold the session places while
	// this runs stays behind for the sweeper with its product count intact.
	held := map[string]int{}
	var holdIDs []string
	if in.SessionID != "" {
		rows, err := tx.Query(ctx, `SELECT id, product_id, quantity FROM reservations
		                            WHERE session_id=$1 FOR UPDATE`, in.SessionID)
		if err != nil {
			return Order{}, err
		}
		for rows.Next() {
			var id, pid string
			var qty int
			if err := rows.Scan(&id, &pid, &qty); err != nil {
				rows.Close()
				return Order{}, err
			}
			holdIDs = append(holdIDs, id)
			held[pid] += qty
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return Order{}, err
		}
	}

	wanted := map[string]int{}
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return Order{}, fmt.Errorf("invalid quantity for product %s", it.ProductID)
		}
		wanted[it.ProductID] += it.Quantity
	}

	ids := make([]string, 0, len(wanted)+len(held))
	for id := range wanted {
		ids = append(ids, id)
	}
	for id := range held {
		if _, ok := wanted[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	locked, err := lockProducts(ctx, tx, ids)
	if err != nil {
		return Order{}, err
	}

	snapshot, err := CheckLines(in.Items, locked, held)
	if err != nil {
		return Order{}, err
	}

	for _, id := range ids {
		p, ok := locked[id]
		if !ok {
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity - $2, reserved_quantity = reserved_quantity - $3, updated_at = now()
			WHERE id = $1`, p.ID, wanted[id], held[id]); err != nil {
			return Order{}, err
		}
	}

	if len(holdIDs) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM reservations WHERE id = ANY($1)`, holdIDs); err != nil {
			return Order{}, err
		}
	}

	now := time.Now().UTC()
	order := Order{
		ID:            uuid.NewString(),
		OrderNumber:   in.OrderNumber,
		SessionID:     in.SessionID,
		Items:         snapshot,
		Customer:      in.Customer,
		Totals:        in.Totals,
		PaymentMethod: in.PaymentMethod,
		PaymentStatus: InitialPaymentStatus(in.PaymentMethod),
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	ct, err := tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, session_id, items, customer_data, subtotal, shipping_cost,
		                    discount_code, discount_amount, total, payment_method, payment_status, status,
		                    created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
		ON CONFLICT (order_number) DO NOTHING`,
		order.ID, order.OrderNumber, order.SessionID, order.Items, order.Customer, order.Totals.Subtotal,
		order.Totals.ShippingCost, nullable(order.Totals.DiscountCode), order.Totals.DiscountAmount,
		order.Totals.Total, order.PaymentMethod, order.PaymentStatus, order.Status, now)
	if err != nil {
		return Order{}, err
	}
	if ct.RowsAffected() == 0 {
		return Order{}, errOrderNumberTaken // rollback via defer
	}

	if order.Totals.DiscountCode != "" {
		if _, err := tx.Exec(ctx, `UPDATE discount_codes SET usage_count = usage_count + 1
		                           WHERE lower(code) = lower($1)`, order.Totals.DiscountCode); err != nil {
			return Order{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return order, nil
}

// lockProducts locks the given product rows in id order.
func lockProducts(ctx context.Context, tx pgx.Tx, ids []string) (map[string]Product, error) {
	rows, err := tx.Query(ctx, `SELECT `+productColumns+` FROM products
	                            WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	locked := make(map[string]Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		locked[p.ID] = p
	}
	return locked, rows.Err()
}

// CheckLines verifies every cart line against the locked product rows and
// returns the item snapshot to persist. held is the quantity this session
// already has on hold per product; those units are sellable to it.
func CheckLines(items []OrderItem, locked map[string]Product, held map[string]int) ([]OrderItem, error) {
	wanted := map[string]int{}
	for _, it := range items {
		wanted[it.ProductID] += it.Quantity
	}
	snapshot := make([]OrderItem, 0, len(items))
	for _, it := range items {
		p, ok := locked[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, it.ProductID)
		}
		if !p.IsActive {
			return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, p.ID)
		}
		if !p.Price.Equal(it.UnitPrice) {
			return nil, fmt.Errorf("%w: %s", ErrPriceChanged, p.ID)
		}
		if wanted[p.ID] > p.StockQuantity-(p.ReservedQuantity-held[p.ID]) {
			return nil, fmt.Errorf("%w: %s", ErrInsufficientStock, p.ID)
		}
		snapshot = append(snapshot, OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			SKU:       p.SKU,
			UnitPrice: p.Price,
			Quantity:  it.Quantity,
		})
	}
	return snapshot, nil
}

// AttachCharge records the processor charge for an order. Attaching the
// same code twice is a no-op; a different code is a conflict.
func (r *Repo) AttachCharge(ctx context.Context, orderID, chargeCode, hostedURL string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET coinbase_charge_code = $2,
		    charge_hosted_url = COALESCE(NULLIF($3, ''), charge_hosted_url),
		    updated_at = now()
		WHERE id = $1 AND (coinbase_charge_code IS NULL OR coinbase_charge_code = $2)`,
		orderID, chargeCode, hostedURL)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// the code already belongs to another order
			return ErrChargeConflict
		}
		return err
	}
	if ct.RowsAffected() == 0 {
		if _, err := getOrder(ctx, r.DB, `id=$1`, orderID); err != nil {
			return err
		}
		return ErrChargeConflict
	}
	return nil
}

// ApplyCryptoPayment moves a crypto order's payment status forward. It
// reports changed=false when the order is already at or past the requested
// state. See PlanCryptoPayment for the effect on status and stock.
func (r *Repo) ApplyCryptoPayment(ctx context.Context, orderID string, to PaymentStatus, details json.RawMessage) (Order, bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := getOrder(ctx, tx, `id=$1 FOR UPDATE`, orderID)
	if err != nil {
		return Order{}, false, err
	}
	if o.PaymentMethod != PaymentCrypto {
		return o, false, fmt.Errorf("%w: %s is a %s order", ErrInvalidTransition, o.OrderNumber, o.PaymentMethod)
	}

	var locked map[string]Product
	if to == PaymentConfirmed && o.Status == StatusCancelled && CanAdvancePayment(o.PaymentStatus, to) {
		if locked, err = lockProducts(ctx, tx, itemIDs(o.Items)); err != nil {
			return Order{}, false, err
		}
	}
	change, ok := PlanCryptoPayment(o, to, locked)
	if !ok {
		return o, false, nil
	}
	switch {
	case change.Restock:
		err = restock(ctx, tx, o.Items)
	case change.Reclaim:
		err = reclaim(ctx, tx, o.Items)
	}
	if err != nil {
		return Order{}, false, err
	}

	var detailsArg any
	if len(details) > 0 {
		detailsArg = details
		o.PaymentDetails = details
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET payment_status=$2, status=$3, payment_details=COALESCE($4, payment_details), updated_at=now()
		WHERE id=$1`, o.ID, change.PaymentStatus, change.Status, detailsArg); err != nil {
		return Order{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, err
	}
	o.PaymentStatus = change.PaymentStatus
	o.Status = change.Status
	o.UpdatedAt = time.Now().UTC()
	return o, true, nil
}

// CryptoChange is what a crypto payment transition does to an order.
type CryptoChange struct {
	PaymentStatus PaymentStatus
	Status        Status
	Restock       bool // the items go back into stock
	Reclaim       bool // the items of a cancelled order come out of stock again
}

// PlanCryptoPayment works out the effect of moving o's charge to `to`. ok is
// false when the charge is already at or past that state.
//
// A payment for a cancelled order reinstates it when locked shows enough
// unreserved stock for every item; otherwise the payment is parked as
// needs_review and the order stays cancelled.
func PlanCryptoPayment(o Order, to PaymentStatus, locked map[string]Product) (CryptoChange, bool) {
	if !CanAdvancePayment(o.PaymentStatus, to) {
		return CryptoChange{}, false
	}
	if to == PaymentConfirmed && o.Status == StatusCancelled {
		if stockCovers(o.Items, locked) {
			return CryptoChange{PaymentStatus: to, Status: StatusConfirmed, Reclaim: true}, true
		}
		return CryptoChange{PaymentStatus: PaymentNeedsReview, Status: StatusCancelled}, true
	}
	next := NextCryptoOrderStatus(o.Status, to)
	return CryptoChange{
		PaymentStatus: to,
		Status:        next,
		Restock:       next == StatusCancelled && o.Status != StatusCancelled,
	}, true
}

func stockCovers(items []OrderItem, locked map[string]Product) bool {
	wanted := map[string]int{}
	for _, it := range items {
		wanted[it.ProductID] += it.Quantity
	}
	for id, qty := range wanted {
		p, ok := locked[id]
		if !ok || p.Available() < qty {
			return false
		}
	}
	return true
}

func itemIDs(items []OrderItem) []string {
	seen := map[string]bool{}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	sort.Strings(ids)
	return ids
}

// NextCryptoOrderStatus derives the order status that accompanies a crypto
// payment transition.
func NextCryptoOrderStatus(current Status, to PaymentStatus) Status {
	if current != StatusPending {
		return current
	}
	switch to {
	case PaymentConfirmed:
		return StatusConfirmed
	case PaymentFailed, PaymentExpired:
		return StatusCancelled
	}
	return current
}

// SetStatus applies an operator status change. Cancelling restocks the
// order's items.
func (r *Repo) SetStatus(ctx context.Context, orderNumber string, to Status) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := getOrder(ctx, tx, `order_number=$1 FOR UPDATE`, orderNumber)
	if err != nil {
		return Order{}, err
	}
	if o.Status == to {
		return o, nil
	}
	if !CanTransition(o.Status, to) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	if to == StatusCancelled {
		if err := restock(ctx, tx, o.Items); err != nil {
			return Order{}, err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, o.ID, to); err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	o.Status = to
	return o, nil
}

// ConfirmVenmo records an operator-verified Venmo transfer.
func (r *Repo) ConfirmVenmo(ctx context.Context, orderNumber string) (Order, bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := getOrder(ctx, tx, `order_number=$1 FOR UPDATE`, orderNumber)
	if err != nil {
		return Order{}, false, err
	}
	if o.PaymentMethod != PaymentVenmo || o.Status == StatusCancelled {
		return o, false, fmt.Errorf("%w: cannot confirm venmo payment for %s", ErrInvalidTransition, orderNumber)
	}
	if o.PaymentStatus == PaymentCompleted {
		return o, false, nil
	}
	next := o.Status
	if next == StatusPending {
		next = StatusConfirmed
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET payment_status=$2, status=$3, updated_at=now() WHERE id=$1`,
		o.ID, PaymentCompleted, next); err != nil {
		return Order{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, err
	}
	o.PaymentStatus = PaymentCompleted
	o.Status = next
	return o, true, nil
}

func restock(ctx context.Context, tx pgx.Tx, items []OrderItem) error {
	for _, it := range items {
		if _, err := tx.Exec(ctx, `UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = now()
		                           WHERE id=$1`, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func reclaim(ctx context.Context, tx pgx.Tx, items []OrderItem) error {
	for _, it := range items {
		if _, err := tx.Exec(ctx, `UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = now()
		                           WHERE id=$1`, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) RecordPaymentEvent(ctx context.Context, ev PaymentEvent) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO payment_events (event_id, charge_code, order_number, type, payload)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.ChargeCode, ev.OrderNumber, ev.Type, ev.Payload)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) PaymentEvents(ctx context.Context, orderNumber string) ([]PaymentEvent, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT event_id, charge_code, order_number, type, payload, received_at
		FROM payment_events WHERE order_number=$1 ORDER BY received_at`, orderNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentEvent
	for rows.Next() {
		var ev PaymentEvent
		var payload []byte
		if err := rows.Scan(&ev.EventID, &ev.ChargeCode, &ev.OrderNumber, &ev.Type, &payload, &ev.ReceivedAt); err != nil {
			return nil, err
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}
