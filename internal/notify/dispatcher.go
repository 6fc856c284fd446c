package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/darktidesresearch/storefront/internal/kafka"
	"github.com/darktidesresearch/storefront/internal/metrics"
	"github.com/darktidesresearch/storefront/internal/orders"
	"github.com/darktidesresearch/storefront/internal/redisx"
)

const consumerName = "notifier"

type Sender interface {
	Send(ctx context.Context, e Email) (string, error)
}

type Options struct {
	From        string
	OrderNotify string // operator inbox for new orders and contact messages
	MaxAttempts int
	// NewBackOff overrides the retry schedule; tests use a zero backoff.
	NewBackOff func() backoff.BackOff
}

// Dispatcher turns storefront events into emails. A failed send is retried
// and then logged; it never fails the message.
type Dispatcher struct {
	sender  Sender
	cache   redisx.Cache
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(sender Sender, cache redisx.Cache, opts Options, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		}
	}
	return &Dispatcher{sender: sender, cache: cache, opts: opts, log: log.Named("notify"), metrics: m}
}

// HandleMessage is the kafka consumer handler. Only a failing dedup store
// returns an error, so the offset is not committed.
func (d *Dispatcher) HandleMessage(ctx context.Context, m kafka.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		d.log.Error("notify_bad_message", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	log := d.log.With(
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("order_number", env.CorrelationID),
	)

	key := fmt.Sprintf(redisx.KeyDedup, consumerName, env.EventID)
	if d.cache != nil {
		seen, err := d.cache.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("dedup check: %w", err)
		}
		if seen {
			log.Debug("notify_duplicate")
			return nil
		}
	}

	emails, kind, err := d.compose(env)
	if err != nil {
		log.Error("notify_compose_failed", zap.Error(err))
		return nil
	}
	for _, e := range emails {
		if len(e.To) == 0 || e.To[0] == "" {
			continue
		}
		id, err := d.send(ctx, e)
		if err != nil {
			d.metrics.Notification(kind, "failed")
			log.Error("email_send_failed", zap.String("subject", e.Subject), zap.Error(err))
			continue
		}
		d.metrics.Notification(kind, "sent")
		log.Info("email_sent", zap.String("subject", e.Subject), zap.String("message_id", id))
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, key, "1", redisx.TTLDedup); err != nil {
			log.Warn("notify_dedup_set_failed", zap.Error(err))
		}
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, e Email) (string, error) {
	var id string
	op := func() error {
		var err error
		id, err = d.sender.Send(ctx, e)
		var se *SendError
		if errors.As(err, &se) && !se.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(d.opts.NewBackOff(), uint64(d.opts.MaxAttempts-1)), ctx)
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		d.log.Warn("email_send_retry", zap.String("subject", e.Subject), zap.Duration("wait", wait), zap.Error(err))
	})
	return id, err
}

func (d *Dispatcher) compose(env orders.Envelope) ([]Email, string, error) {
	switch env.EventType {
	case orders.EventOrderPlaced:
		p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
		if err != nil {
			return nil, "", err
		}
		customer, err := render("order_placed", p)
		if err != nil {
			return nil, "", err
		}
		operator, err := render("order_placed_admin", p)
		if err != nil {
			return nil, "", err
		}
		return []Email{
			{From: d.opts.From, To: []string{p.Customer.Email}, Subject: "Order " + p.OrderNumber + " received", HTML: customer},
			{From: d.opts.From, To: []string{d.opts.OrderNotify}, Subject: "New order " + p.OrderNumber, HTML: operator, ReplyTo: p.Customer.Email},
		}, "order_placed", nil

	case orders.EventPaymentConfirmed:
		p, err := kafkax.UnwrapPayload[orders.PaymentConfirmedPayload](env.Payload)
		if err != nil {
			return nil, "", err
		}
		html, err := render("payment_confirmed", p)
		if err != nil {
			return nil, "", err
		}
		return []Email{
			{From: d.opts.From, To: []string{p.Customer.Email}, Subject: "Payment confirmed for order " + p.OrderNumber, HTML: html},
		}, "payment_confirmed", nil

	case orders.EventContactSubmitted:
		p, err := kafkax.UnwrapPayload[orders.ContactSubmittedPayload](env.Payload)
		if err != nil {
			return nil, "", err
		}
		html, err := render("contact", p)
		if err != nil {
			return nil, "", err
		}
		subject := "Contact form: " + p.Name
		if p.Subject != "" {
			subject = "Contact form: " + p.Subject
		}
		return []Email{
			{From: d.opts.From, To: []string{d.opts.OrderNotify}, Subject: subject, HTML: html, ReplyTo: p.Email},
		}, "contact", nil
	}
	return nil, "", fmt.Errorf("unknown event type %q", env.EventType)
}
