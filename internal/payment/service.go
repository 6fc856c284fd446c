package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/logging"
	"github.com/darktidesresearch/storefront/internal/metrics"
	"github.com/darktidesresearch/storefront/internal/orders"
	"github.com/darktidesresearch/storefront/internal/redisx"
)

var ErrNoPaymentEvent = errors.New("no payment event recorded for order")

type OrderStore interface {
	FindOrderByCharge(ctx context.Context, chargeCode string) (orders.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (orders.Order, error)
	AttachCharge(ctx context.Context, orderID, chargeCode, hostedURL string) error
	ApplyCryptoPayment(ctx context.Context, orderID string, to orders.PaymentStatus, details json.RawMessage) (orders.Order, bool, error)
	RecordPaymentEvent(ctx context.Context, ev orders.PaymentEvent) (bool, error)
	PaymentEvents(ctx context.Context, orderNumber string) ([]orders.PaymentEvent, error)
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnmatched Outcome = "unmatched"
	// OutcomeNeedsReview is a payment for a cancelled order that could not
	// be reinstated.
	OutcomeNeedsReview Outcome = "needs_review"
)

type HandleResult struct {
	Outcome       Outcome
	OrderNumber   string
	PaymentStatus orders.PaymentStatus
}

type WebhookService struct {
	store    OrderStore
	cache    redisx.Cache
	pub      orders.Publisher
	producer string
	log      *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

func NewWebhookService(store OrderStore, cache redisx.Cache, pub orders.Publisher, producer string, log *zap.Logger, m *metrics.Metrics) *WebhookService {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookService{
		store:    store,
		cache:    cache,
		pub:      pub,
		producer: producer,
		log:      log.Named("payment"),
		metrics:  m,
		tracer:   otel.Tracer("github.com/darktidesresearch/storefront/internal/payment"),
	}
}

// Handle applies one verified webhook delivery. Delivering the same event
// any number of times has the effect of delivering it once.
func (s *WebhookService) Handle(ctx context.Context, ev Event) (res HandleResult, err error) {
	ctx, span := s.tracer.Start(ctx, "payment.webhook",
		trace.WithAttributes(
			attribute.String("webhook.event_id", ev.ID),
			attribute.String("webhook.type", ev.Type),
			attribute.String("charge.code", ev.ChargeCode),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.WebhookEvent(ev.Type, outcomeLabel(res.Outcome, err))
		span.End()
	}()
	log := logging.FromContext(ctx, s.log).With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
		zap.String("charge_code", ev.ChargeCode),
	)

	dedupKey := fmt.Sprintf(redisx.KeyDedup, "webhook", ev.ID)
	if s.cache != nil {
		if seen, err := s.cache.Exists(ctx, dedupKey); err == nil && seen {
			return HandleResult{Outcome: OutcomeDuplicate}, nil
		}
	}

	order, found, err := s.locate(ctx, ev)
	if err != nil {
		return HandleResult{}, err
	}

	orderNumber := ev.OrderNumber
	if found {
		orderNumber = order.OrderNumber
	}
	if _, err := s.store.RecordPaymentEvent(ctx, orders.PaymentEvent{
		EventID:     ev.ID,
		ChargeCode:  ev.ChargeCode,
		OrderNumber: orderNumber,
		Type:        ev.Type,
		Payload:     ev.Raw,
	}); err != nil {
		return HandleResult{}, fmt.Errorf("record payment event: %w", err)
	}

	target, ok := TargetStatus(ev.Type)
	switch {
	case !ok:
		res = HandleResult{Outcome: OutcomeIgnored, OrderNumber: orderNumber}
	case !found:
		log.Warn("webhook_unmatched", zap.String("order_number", ev.OrderNumber))
		return HandleResult{Outcome: OutcomeUnmatched, OrderNumber: ev.OrderNumber}, nil
	default:
		res, err = s.apply(ctx, order, target, ev)
		if err != nil {
			return HandleResult{}, err
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, dedupKey, "1", redisx.TTLDedup); err != nil {
			log.Warn("webhook_dedup_set_failed", zap.Error(err))
		}
	}
	log.Info("webhook_processed",
		zap.String("order_number", res.OrderNumber),
		zap.String("outcome", string(res.Outcome)),
		zap.String("payment_status", string(res.PaymentStatus)))
	return res, nil
}

// locate finds the order by charge code, then by the order number carried in
// the charge metadata, attaching the charge code in the latter case.
func (s *WebhookService) locate(ctx context.Context, ev Event) (orders.Order, bool, error) {
	if ev.ChargeCode != "" {
		o, err := s.store.FindOrderByCharge(ctx, ev.ChargeCode)
		if err == nil {
			return o, true, nil
		}
		if !errors.Is(err, orders.ErrOrderNotFound) {
			return orders.Order{}, false, err
		}
	}
	if ev.OrderNumber == "" {
		return orders.Order{}, false, nil
	}
	o, err := s.store.GetOrderByNumber(ctx, ev.OrderNumber)
	if errors.Is(err, orders.ErrOrderNotFound) {
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, err
	}
	if ev.ChargeCode != "" && o.CoinbaseChargeCode == "" {
		if err := s.store.AttachCharge(ctx, o.ID, ev.ChargeCode, ""); err != nil {
			if errors.Is(err, orders.ErrChargeConflict) {
				return orders.Order{}, false, nil
			}
			return orders.Order{}, false, err
		}
		o.CoinbaseChargeCode = ev.ChargeCode
	} else if ev.ChargeCode != "" && o.CoinbaseChargeCode != ev.ChargeCode {
		return orders.Order{}, false, nil
	}
	return o, true, nil
}

func (s *WebhookService) apply(ctx context.Context, order orders.Order, target orders.PaymentStatus, ev Event) (HandleResult, error) {
	updated, changed, err := s.store.ApplyCryptoPayment(ctx, order.ID, target, paymentDetails(ev))
	if err != nil {
		return HandleResult{}, err
	}
	res := HandleResult{Outcome: OutcomeUnchanged, OrderNumber: updated.OrderNumber, PaymentStatus: updated.PaymentStatus}
	if !changed {
		return res, nil
	}
	res.Outcome = OutcomeApplied
	s.invalidateStatus(ctx, updated.OrderNumber)

	log := logging.FromContext(ctx, s.log).With(
		zap.String("order_number", updated.OrderNumber),
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
	)
	switch {
	case updated.PaymentStatus == orders.PaymentNeedsReview:
		res.Outcome = OutcomeNeedsReview
		log.Error("crypto_payment_needs_review",
			zap.String("previous_payment_status", string(order.PaymentStatus)),
			zap.String("charge_code", updated.CoinbaseChargeCode))
	case updated.PaymentStatus == orders.PaymentConfirmed && updated.Status == orders.StatusConfirmed:
		if order.Status == orders.StatusCancelled {
			log.Warn("crypto_order_reinstated", zap.String("previous_payment_status", string(order.PaymentStatus)))
		}
		s.emitConfirmed(ctx, updated, ev)
	}
	return res, nil
}

func (s *WebhookService) emitConfirmed(ctx context.Context, o orders.Order, ev Event) {
	if s.pub == nil {
		return
	}
	traceID := trace.SpanContextFromContext(ctx).TraceID()
	var tid string
	if traceID.IsValid() {
		tid = traceID.String()
	}
	_, err := orders.Emit(s.pub, orders.TopicPaymentConfirmed, s.producer, orders.EventPaymentConfirmed, o.OrderNumber, tid,
		orders.PaymentConfirmedPayload{
			OrderNumber:   o.OrderNumber,
			ChargeCode:    o.CoinbaseChargeCode,
			Customer:      o.Customer,
			Total:         o.Totals.Total,
			Network:       ev.Network,
			TransactionID: ev.TransactionID,
		})
	if err != nil {
		logging.FromContext(ctx, s.log).Error("emit_payment_confirmed_failed",
			zap.String("order_number", o.OrderNumber), zap.Error(err))
	}
}

func (s *WebhookService) invalidateStatus(ctx context.Context, orderNumber string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderNumber))
}

// RecoverCryptoOrder replays the most advanced payment event recorded for
// orderNumber. With force set it confirms the order even when no recorded
// event says the charge was paid; that is an operator's call after checking
// the processor. A payment for a cancelled order reinstates it when the stock
// is still there and is parked as needs_review otherwise. Calling it again
// after it succeeded changes nothing.
func (s *WebhookService) RecoverCryptoOrder(ctx context.Context, orderNumber string, force bool) (orders.Order, error) {
	o, err := s.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return orders.Order{}, err
	}
	if o.PaymentMethod != orders.PaymentCrypto {
		return orders.Order{}, fmt.Errorf("%w: %s is not a crypto order", orders.ErrInvalidTransition, orderNumber)
	}

	events, err := s.store.PaymentEvents(ctx, orderNumber)
	if err != nil {
		return orders.Order{}, err
	}
	best, found := mostAdvanced(events)
	if found && best.ChargeCode != "" && o.CoinbaseChargeCode == "" {
		if err := s.store.AttachCharge(ctx, o.ID, best.ChargeCode, ""); err != nil {
			return orders.Order{}, err
		}
		o.CoinbaseChargeCode = best.ChargeCode
	}
	target, _ := TargetStatus(best.Type)

	if force && (!found || target != orders.PaymentConfirmed) {
		ev := Event{ID: "manual:" + orderNumber, Type: ChargeConfirmed, ChargeCode: o.CoinbaseChargeCode}
		res, err := s.apply(ctx, o, orders.PaymentConfirmed, ev)
		if err != nil {
			return orders.Order{}, err
		}
		s.log.Warn("crypto_order_force_confirmed",
			zap.String("order_number", orderNumber),
			zap.String("outcome", string(res.Outcome)))
		return s.store.GetOrderByNumber(ctx, orderNumber)
	}
	if !found {
		return o, ErrNoPaymentEvent
	}

	ev, err := ParseEvent(best.Payload)
	if err != nil {
		ev = Event{ID: best.EventID, Type: best.Type, ChargeCode: best.ChargeCode}
	}
	res, err := s.apply(ctx, o, target, ev)
	if err != nil {
		return orders.Order{}, err
	}
	s.log.Info("crypto_order_recovered",
		zap.String("order_number", orderNumber),
		zap.String("event_id", best.EventID),
		zap.String("event_type", best.Type),
		zap.String("outcome", string(res.Outcome)))
	return s.store.GetOrderByNumber(ctx, orderNumber)
}

// mostAdvanced picks the recorded event whose status ranks highest; among
// equals the later delivery wins.
func mostAdvanced(events []orders.PaymentEvent) (orders.PaymentEvent, bool) {
	var (
		best     orders.PaymentEvent
		bestRank = -1
	)
	for _, ev := range events {
		target, ok := TargetStatus(ev.Type)
		if !ok {
			continue
		}
		if r := target.Rank(); r >= bestRank {
			best, bestRank = ev, r
		}
	}
	return best, bestRank >= 0
}

func outcomeLabel(o Outcome, err error) string {
	if err != nil {
		return "error"
	}
	return string(o)
}
