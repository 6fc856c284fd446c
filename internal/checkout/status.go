package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/logging"
	"github.com/darktidesresearch/storefront/internal/orders"
	"github.com/darktidesresearch/storefront/internal/redisx"
)

// StatusView is what the storefront's order page polls. It carries no
// customer data.
type StatusView struct {
	OrderNumber   string               `json:"order_number"`
	Status        orders.Status        `json:"status"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
	PaymentMethod orders.PaymentMethod `json:"payment_method"`
	Total         decimal.Decimal      `json:"total"`
	HostedURL     string               `json:"hosted_url,omitempty"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func (s *Service) OrderStatus(ctx context.Context, orderNumber string) (StatusView, error) {
	if !ValidOrderNumber(orderNumber) {
		return StatusView{}, orders.ErrOrderNotFound
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderNumber)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var v StatusView
			if json.Unmarshal([]byte(raw), &v) == nil {
				return v, nil
			}
		}
	}

	o, err := s.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return StatusView{}, err
	}
	v := StatusView{
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		Total:         o.Totals.Total,
		HostedURL:     o.ChargeHostedURL,
		UpdatedAt:     o.UpdatedAt,
	}
	if s.cache != nil {
		b, _ := json.Marshal(v)
		if err := s.cache.Set(ctx, key, string(b), redisx.TTLStatusCache); err != nil {
			logging.FromContext(ctx, s.log).Debug("status_cache_set_failed", zap.Error(err))
		}
	}
	return v, nil
}
