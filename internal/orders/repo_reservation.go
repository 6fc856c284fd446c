package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReservationRepo struct{ DB *pgxpool.Pool }

// Reserve locks the product row, checks what is still unreserved and
// records the hold. Nothing is committed when stock is short.
func (r *ReservationRepo) Reserve(ctx context.Context, in ReserveInput) (Reservation, error) {
	if in.Quantity <= 0 {
		return Reservation{}, fmt.Errorf("quantity must be positive, got %d", in.Quantity)
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Reservation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		stock, reserved int
		active          bool
	)
	err = tx.QueryRow(ctx, `SELECT stock_quantity, reserved_quantity, is_active FROM products
	                        WHERE id=$1 FOR UPDATE`, in.ProductID).Scan(&stock, &reserved, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrProductNotFound
	}
	if err != nil {
		return Reservation{}, err
	}
	if !active {
		return Reservation{}, ErrProductUnavailable
	}
	if stock-reserved < in.Quantity {
		return Reservation{}, ErrInsufficientStock
	}

	if _, err := tx.Exec(ctx, `UPDATE products SET reserved_quantity = reserved_quantity + $2, updated_at = now()
	                           WHERE id=$1`, in.ProductID, in.Quantity); err != nil {
		return Reservation{}, err
	}

	res := Reservation{
		ID:        uuid.NewString(),
		SessionID: in.SessionID,
		ProductID: in.ProductID,
		Quantity:  in.Quantity,
		ExpiresAt: in.ExpiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO reservations (id, session_id, product_id, quantity, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		res.ID, res.SessionID, res.ProductID, res.Quantity, res.ExpiresAt, res.CreatedAt); err != nil {
		return Reservation{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Reservation{}, err
	}
	return res, nil
}

// ReleaseReservation removes one hold owned by sessionID and hands its
// quantity back. Releasing an unknown or foreign hold is ErrReservationMissing.
func (r *ReservationRepo) ReleaseReservation(ctx context.Context, sessionID, reservationID string) error {
	ct, err := r.DB.Exec(ctx, `
		WITH gone AS (
			DELETE FROM reservations WHERE id=$1 AND session_id=$2
			RETURNING product_id, quantity
		)
		UPDATE products p
		SET reserved_quantity = GREATEST(p.reserved_quantity - gone.quantity, 0), updated_at = now()
		FROM gone WHERE p.id = gone.product_id`, reservationID, sessionID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrReservationMissing
	}
	return nil
}

func (r *ReservationRepo) SessionReservations(ctx context.Context, sessionID string) ([]Reservation, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, session_id, product_id, quantity, expires_at, created_at
		FROM reservations WHERE session_id=$1 AND expires_at > now()
		ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(&res.ID, &res.SessionID, &res.ProductID, &res.Quantity, &res.ExpiresAt, &res.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// SessionHeld sums the unexpired quantity the session holds per product.
func (r *ReservationRepo) SessionHeld(ctx context.Context, sessionID string) (map[string]int, error) {
	held := map[string]int{}
	if sessionID == "" {
		return held, nil
	}
	rows, err := r.DB.Query(ctx, `
		SELECT product_id, SUM(quantity) FROM reservations
		WHERE session_id=$1 AND expires_at > now()
		GROUP BY product_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var pid string
		var qty int
		if err := rows.Scan(&pid, &qty); err != nil {
			return nil, err
		}
		held[pid] = qty
	}
	return held, rows.Err()
}

// ReleaseExpired deletes every hold past its expiry as of now and returns
// the freed quantity to the products in the same statement.
func (r *ReservationRepo) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	var released int
	err := r.DB.QueryRow(ctx, `
		WITH gone AS (
			DELETE FROM reservations WHERE expires_at <= $1
			RETURNING product_id, quantity
		), per_product AS (
			SELECT product_id, SUM(quantity) AS qty, COUNT(*) AS n FROM gone GROUP BY product_id
		), upd AS (
			UPDATE products p
			SET reserved_quantity = GREATEST(p.reserved_quantity - per_product.qty, 0), updated_at = now()
			FROM per_product WHERE p.id = per_product.product_id
			RETURNING p.id
		)
		SELECT COALESCE(SUM(n), 0)::int FROM per_product`, now.UTC()).Scan(&released)
	return released, err
}
