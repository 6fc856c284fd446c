package backoffice

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/logging"
	"github.com/darktidesresearch/storefront/internal/orders"
	"github.com/darktidesresearch/storefront/internal/redisx"
)

type OrderStore interface {
	ListOrders(ctx context.Context, status orders.Status, limit int) ([]orders.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (orders.Order, error)
	SetStatus(ctx context.Context, orderNumber string, to orders.Status) (orders.Order, error)
	ConfirmVenmo(ctx context.Context, orderNumber string) (orders.Order, bool, error)
}

// CryptoRecoverer is satisfied by payment.WebhookService.
type CryptoRecoverer interface {
	RecoverCryptoOrder(ctx context.Context, orderNumber string, force bool) (orders.Order, error)
}

// Service holds the operator actions shared by the admin HTTP routes and the
// admin CLI. Every change drops the cached order status.
type Service struct {
	store  OrderStore
	crypto CryptoRecoverer
	cache  redisx.Cache
	log    *zap.Logger
}

func NewService(store OrderStore, crypto CryptoRecoverer, cache redisx.Cache, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, crypto: crypto, cache: cache, log: log.Named("backoffice")}
}

func (s *Service) ListOrders(ctx context.Context, status orders.Status, limit int) ([]orders.Order, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", orders.ErrInvalidTransition, status)
	}
	return s.store.ListOrders(ctx, status, limit)
}

func (s *Service) Order(ctx context.Context, orderNumber string) (orders.Order, error) {
	return s.store.GetOrderByNumber(ctx, orderNumber)
}

func (s *Service) SetStatus(ctx context.Context, orderNumber string, to orders.Status) (orders.Order, error) {
	if !to.Valid() {
		return orders.Order{}, fmt.Errorf("%w: unknown status %q", orders.ErrInvalidTransition, to)
	}
	o, err := s.store.SetStatus(ctx, orderNumber, to)
	if err != nil {
		return orders.Order{}, err
	}
	s.invalidate(ctx, orderNumber)
	logging.FromContext(ctx, s.log).Info("order_status_set",
		zap.String("order_number", orderNumber), zap.String("status", string(to)))
	return o, nil
}

// ConfirmVenmo marks a Venmo order paid once the operator has seen the
// transfer. Confirming twice is a no-op.
func (s *Service) ConfirmVenmo(ctx context.Context, orderNumber string) (orders.Order, error) {
	o, changed, err := s.store.ConfirmVenmo(ctx, orderNumber)
	if err != nil {
		return orders.Order{}, err
	}
	if changed {
		s.invalidate(ctx, orderNumber)
		logging.FromContext(ctx, s.log).Info("venmo_payment_confirmed", zap.String("order_number", orderNumber))
	}
	return o, nil
}

func (s *Service) ConfirmCryptoOrder(ctx context.Context, orderNumber string, force bool) (orders.Order, error) {
	o, err := s.crypto.RecoverCryptoOrder(ctx, orderNumber, force)
	if err != nil {
		return o, err
	}
	s.invalidate(ctx, orderNumber)
	return o, nil
}

func (s *Service) invalidate(ctx context.Context, orderNumber string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderNumber)); err != nil {
		s.log.Debug("status_cache_del_failed", zap.String("order_number", orderNumber), zap.Error(err))
	}
}
