package inventory

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/logging"
	"github.com/darktidesresearch/storefront/internal/metrics"
	"github.com/darktidesresearch/storefront/internal/orders"
)

// UnavailableMessage is the only reason a shopper ever sees for a stock
// problem, whatever actually went wrong.
const UnavailableMessage = "This item is temporarily unavailable"

type Catalog interface {
	GetProduct(ctx context.Context, id string) (orders.Product, error)
	ProductsByIDs(ctx context.Context, ids []string) (map[string]orders.Product, error)
}

type Holds interface {
	Reserve(ctx context.Context, in orders.ReserveInput) (orders.Reservation, error)
	ReleaseReservation(ctx context.Context, sessionID, reservationID string) error
	SessionReservations(ctx context.Context, sessionID string) ([]orders.Reservation, error)
	SessionHeld(ctx context.Context, sessionID string) (map[string]int, error)
}

type Availability struct {
	Available bool   `json:"available"`
	Message   string `json:"message,omitempty"`
}

// ReserveResult is either OK with the hold's id and expiry, or carries the
// shopper-facing Reason.
type ReserveResult struct {
	OK            bool      `json:"success"`
	ReservationID string    `json:"reservation_id,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	Reason        string    `json:"message,omitempty"`
}

type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CartValidation struct {
	Valid        bool     `json:"valid"`
	InvalidItems []string `json:"invalid_items"`
}

type Service struct {
	catalog Catalog
	holds   Holds
	ttl     time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(catalog Catalog, holds Holds, ttl time.Duration, log *zap.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		catalog: catalog,
		holds:   holds,
		ttl:     ttl,
		log:     log.Named("inventory"),
		metrics: m,
		now:     time.Now,
	}
}

// CheckAvailability fails closed: any lookup problem reads as unavailable.
func (s *Service) CheckAvailability(ctx context.Context, productID string, qty int) Availability {
	if qty <= 0 {
		return Availability{Message: "Quantity must be at least 1"}
	}
	p, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if !errors.Is(err, orders.ErrProductNotFound) {
			logging.FromContext(ctx, s.log).Error("availability_lookup_failed",
				zap.String("product_id", productID), zap.Error(err))
		}
		return Availability{Message: UnavailableMessage}
	}
	if !p.IsActive || p.Available() < qty {
		return Availability{Message: UnavailableMessage}
	}
	return Availability{Available: true}
}

func (s *Service) Reserve(ctx context.Context, sess Session, productID string, qty int) ReserveResult {
	log := logging.FromContext(ctx, s.log)
	if sess.Empty() {
		return ReserveResult{Reason: "Missing shopping session"}
	}
	if qty <= 0 {
		return ReserveResult{Reason: "Quantity must be at least 1"}
	}
	res, err := s.holds.Reserve(ctx, orders.ReserveInput{
		SessionID: sess.ID,
		ProductID: productID,
		Quantity:  qty,
		ExpiresAt: s.now().Add(s.ttl),
	})
	switch {
	case err == nil:
		s.metrics.Reservation("ok")
		log.Debug("reservation_created",
			zap.String("reservation_id", res.ID),
			zap.String("product_id", productID),
			zap.Int("quantity", qty))
		return ReserveResult{OK: true, ReservationID: res.ID, ExpiresAt: res.ExpiresAt}
	case orders.IsAvailabilityConflict(err):
		s.metrics.Reservation("unavailable")
		return ReserveResult{Reason: UnavailableMessage}
	default:
		s.metrics.Reservation("error")
		log.Error("reservation_failed", zap.String("product_id", productID), zap.Error(err))
		return ReserveResult{Reason: UnavailableMessage}
	}
}

func (s *Service) Release(ctx context.Context, sess Session, reservationID string) error {
	if sess.Empty() {
		return ErrInvalidSession
	}
	return s.holds.ReleaseReservation(ctx, sess.ID, reservationID)
}

func (s *Service) ListSession(ctx context.Context, sess Session) ([]orders.Reservation, error) {
	if sess.Empty() {
		return nil, nil
	}
	return s.holds.SessionReservations(ctx, sess.ID)
}

// ValidateCart re-checks every line without reserving anything. Units the
// session already holds count as available to it; with no session this is
// the plain availability check. InvalidItems keeps cart order and lists each
// product once.
func (s *Service) ValidateCart(ctx context.Context, sess Session, lines []CartLine) CartValidation {
	out := CartValidation{InvalidItems: []string{}}
	if len(lines) == 0 {
		return out
	}

	wanted := map[string]int{}
	var order []string
	for _, l := range lines {
		if _, seen := wanted[l.ProductID]; !seen {
			order = append(order, l.ProductID)
		}
		wanted[l.ProductID] += l.Quantity
	}

	products, err := s.catalog.ProductsByIDs(ctx, order)
	if err != nil {
		logging.FromContext(ctx, s.log).Error("cart_validation_failed", zap.Error(err))
		out.InvalidItems = order
		return out
	}
	held := map[string]int{}
	if !sess.Empty() {
		if held, err = s.holds.SessionHeld(ctx, sess.ID); err != nil {
			logging.FromContext(ctx, s.log).Error("cart_validation_failed", zap.Error(err))
			out.InvalidItems = order
			return out
		}
	}

	for _, id := range order {
		p, ok := products[id]
		qty := wanted[id]
		if !ok || !p.IsActive || qty <= 0 || p.Available()+held[id] < qty {
			out.InvalidItems = append(out.InvalidItems, id)
		}
	}
	out.Valid = len(out.InvalidItems) == 0
	return out
}
