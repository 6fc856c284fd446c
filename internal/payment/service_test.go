package payment

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darktidesresearch/storefront/internal/memory"
	"github.com/darktidesresearch/storefront/internal/orders"
)

type published struct {
	topic string
	value []byte
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(topic string, _, value []byte, _ ...kafka.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, value: value})
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.msgs {
		if m.topic == topic {
			n++
		}
	}
	return n
}

type fixture struct {
	store *memory.Store
	cache *memory.Cache
	pub   *recordingPublisher
	svc   *WebhookService
	prod  orders.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.NewStore()
	cache := memory.NewCache()
	pub := &recordingPublisher{}
	prod := st.PutProduct(orders.Product{ID: "p1", Name: "BPC-157", SKU: "BPC-5", Price: decimal.RequireFromString("80.00"), StockQuantity: 5, IsActive: true})
	return &fixture{
		store: st,
		cache: cache,
		pub:   pub,
		prod:  prod,
		svc:   NewWebhookService(st, cache, pub, "storefront-api", nil, nil),
	}
}

func (f *fixture) cryptoOrder(t *testing.T, number, chargeCode string) orders.Order {
	t.Helper()
	ctx := context.Background()
	res, err := f.store.Finalize(ctx, orders.FinalizeInput{
		OrderNumber: number,
		Customer:    orders.CustomerData{Email: "ada@example.com", FirstName: "Ada", LastName: "L"},
		Items:       []orders.OrderItem{{ProductID: f.prod.ID, UnitPrice: f.prod.Price, Quantity: 1}},
		Totals: orders.Totals{
			Subtotal:     decimal.RequireFromString("80.00"),
			ShippingCost: decimal.RequireFromString("10.00"),
			Total:        decimal.RequireFromString("90.00"),
		},
		PaymentMethod: orders.PaymentCrypto,
	})
	require.NoError(t, err)
	if chargeCode != "" {
		require.NoError(t, f.store.AttachCharge(ctx, res.Order.ID, chargeCode, "https://hosted/"+chargeCode))
	}
	return res.Order
}

func event(id, typ, code, orderNumber string) Event {
	raw, _ := json.Marshal(map[string]any{
		"event": map[string]any{
			"id":   id,
			"type": typ,
			"data": map[string]any{
				"code":     code,
				"metadata": map[string]string{"order_number": orderNumber},
			},
		},
	})
	return Event{ID: id, Type: typ, ChargeCode: code, OrderNumber: orderNumber, Raw: raw}
}

func TestHandle_ConfirmedTwiceEmailsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cryptoOrder(t, "DT-AAAAAA", "CHG1")

	ev := event("evt_1", ChargeConfirmed, "CHG1", "DT-AAAAAA")
	res, err := f.svc.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, orders.PaymentConfirmed, res.PaymentStatus)

	res, err = f.svc.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	// same delivery again after Redis lost the dedup key
	require.NoError(t, f.cache.Del(ctx, "dedup:webhook:evt_1"))
	res, err = f.svc.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)

	// processor also sends charge:resolved for the same charge
	_, err = f.svc.Handle(ctx, event("evt_2", ChargeResolved, "CHG1", "DT-AAAAAA"))
	require.NoError(t, err)

	assert.Equal(t, 1, f.pub.count(orders.TopicPaymentConfirmed))

	o, err := f.store.GetOrderByNumber(ctx, "DT-AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentConfirmed, o.PaymentStatus)
	assert.Equal(t, orders.StatusConfirmed, o.Status)
}

func TestHandle_ForwardOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cryptoOrder(t, "DT-BBBBBB", "CHG2")

	_, err := f.svc.Handle(ctx, event("evt_c", ChargeConfirmed, "CHG2", ""))
	require.NoError(t, err)

	// a late pending delivery must not move the order back
	res, err := f.svc.Handle(ctx, event("evt_p", ChargePending, "CHG2", ""))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)

	o, _ := f.store.GetOrderByNumber(ctx, "DT-BBBBBB")
	assert.Equal(t, orders.PaymentConfirmed, o.PaymentStatus)
}

func TestHandle_ExpiredCancelsAndRestocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cryptoOrder(t, "DT-CCCCCC", "CHG3")

	p, _ := f.store.GetProduct(ctx, f.prod.ID)
	require.Equal(t, 4, p.StockQuantity)

	res, err := f.svc.Handle(ctx, event("evt_x", ChargeExpired, "CHG3", ""))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	o, _ := f.store.GetOrderByNumber(ctx, "DT-CCCCCC")
	assert.Equal(t, orders.PaymentExpired, o.PaymentStatus)
	assert.Equal(t, orders.StatusCancelled, o.Status)

	p, _ = f.store.GetProduct(ctx, f.prod.ID)
	assert.Equal(t, 5, p.StockQuantity)
	assert.Zero(t, f.pub.count(orders.TopicPaymentConfirmed))
}

func TestHandle_FallsBackToMetadataOrderNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cryptoOrder(t, "DT-DDDDDD", "")

	res, err := f.svc.Handle(ctx, event("evt_m", ChargePending, "CHG4", "DT-DDDDDD"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	o, _ := f.store.GetOrderByNumber(ctx, "DT-DDDDDD")
	assert.Equal(t, "CHG4", o.CoinbaseChargeCode)
	assert.Equal(t, orders.PaymentPendingConfirmation, o.PaymentStatus)
}

func TestHandle_UnmatchedThenRecovered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Handle(ctx, event("evt_u", ChargeConfirmed, "CHG5", "DT-EEEEEE"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, res.Outcome)

	// the order shows up afterwards
	f.cryptoOrder(t, "DT-EEEEEE", "")

	o, err := f.svc.RecoverCryptoOrder(ctx, "DT-EEEEEE", false)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentConfirmed, o.PaymentStatus)
	assert.Equal(t, orders.StatusConfirmed, o.Status)
	assert.Equal(t, "CHG5", o.CoinbaseChargeCode)

	_, err = f.svc.RecoverCryptoOrder(ctx, "DT-EEEEEE", false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.pub.count(orders.TopicPaymentConfirmed))
}

func TestRecoverCryptoOrder_NoEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cryptoOrder(t, "DT-FFFFFF", "CHG6")

	_, err := f.svc.RecoverCryptoOrder(ctx, "DT-FFFFFF", false)
	assert.ErrorIs(t, err, ErrNoPaymentEvent)

	o, err := f.svc.RecoverCryptoOrder(ctx, "DT-FFFFFF", true)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentConfirmed, o.PaymentStatus)
	assert.Equal(t, 1, f.pub.count(orders.TopicPaymentConfirmed))

	_, err = f.svc.RecoverCryptoOrder(ctx, "DT-NOPE00", false)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestHandle_IgnoresUnmappedTypes(t *testing.T) {
	f := newFixture(t)
	f.cryptoOrder(t, "DT-GGGGGG", "CHG7")

	res, err := f.svc.Handle(context.Background(), event("evt_created", ChargeCreated, "CHG7", ""))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	evs, _ := f.store.PaymentEvents(context.Background(), "DT-GGGGGG")
	assert.Len(t, evs, 1, "every verified delivery is recorded")
}

func (f *fixture) stock(t *testing.T) orders.Product {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), f.prod.ID)
	require.NoError(t, err)
	return p
}

// holdEverything lets other shoppers hold all remaining units.
func (f *fixture) holdEverything(t *testing.T) {
	t.Helper()
	p := f.stock(t)
	p.ReservedQuantity = p.StockQuantity
	f.store.PutProduct(p)
}

func TestHandle_LatePaymentReinstatesExpiredOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cryptoOrder(t, "DT-HHHHHH", "CHG8")

	_, err := f.svc.Handle(ctx, event("evt_exp", ChargeExpired, "CHG8", ""))
	require.NoError(t, err)
	require.Equal(t, 5, f.stock(t).StockQuantity)

	res, err := f.svc.Handle(ctx, event("evt_late", ChargeDelayed, "CHG8", ""))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, orders.PaymentConfirmed, res.PaymentStatus)

	o, _ := f.store.GetOrderByNumber(ctx, "DT-HHHHHH")
	assert.Equal(t, orders.StatusConfirmed, o.Status)
	assert.Equal(t, 4, f.stock(t).StockQuantity, "units come out of stock again")
	assert.Equal(t, 1, f.pub.count(orders.TopicPaymentConfirmed))

	// the processor resolves the same charge afterwards
	res, err = f.svc.Handle(ctx, event("evt_res", ChargeResolved, "CHG8", ""))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, 4, f.stock(t).StockQuantity)
	assert.Equal(t, 1, f.pub.count(orders.TopicPaymentConfirmed))
}

func TestHandle_LatePaymentWithoutStockNeedsReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cryptoOrder(t, "DT-JJJJJJ", "CHG9")

	_, err := f.svc.Handle(ctx, event("evt_exp", ChargeExpired, "CHG9", ""))
	require.NoError(t, err)
	f.holdEverything(t)

	res, err := f.svc.Handle(ctx, event("evt_late", ChargeResolved, "CHG9", ""))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsReview, res.Outcome)
	assert.Equal(t, orders.PaymentNeedsReview, res.PaymentStatus)

	o, _ := f.store.GetOrderByNumber(ctx, "DT-JJJJJJ")
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Equal(t, orders.PaymentNeedsReview, o.PaymentStatus)
	p := f.stock(t)
	assert.Equal(t, 5, p.StockQuantity)
	assert.Equal(t, 5, p.ReservedQuantity)
	assert.Zero(t, f.pub.count(orders.TopicPaymentConfirmed), "no confirmation for an order that will not ship")
}

func TestHandle_PaymentAfterOperatorCancel(t *testing.T) {
	t.Run("stock still there", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.cryptoOrder(t, "DT-KKKKKK", "CHG10")
		_, err := f.store.SetStatus(ctx, "DT-KKKKKK", orders.StatusCancelled)
		require.NoError(t, err)
		require.Equal(t, 5, f.stock(t).StockQuantity)

		res, err := f.svc.Handle(ctx, event("evt_c", ChargeConfirmed, "CHG10", ""))
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, res.Outcome)

		o, _ := f.store.GetOrderByNumber(ctx, "DT-KKKKKK")
		assert.Equal(t, orders.StatusConfirmed, o.Status)
		assert.Equal(t, orders.PaymentConfirmed, o.PaymentStatus)
		assert.Equal(t, 4, f.stock(t).StockQuantity)
		assert.Equal(t, 1, f.pub.count(orders.TopicPaymentConfirmed))
	})

	t.Run("stock gone", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.cryptoOrder(t, "DT-LLLLLL", "CHG11")
		_, err := f.store.SetStatus(ctx, "DT-LLLLLL", orders.StatusCancelled)
		require.NoError(t, err)
		f.holdEverything(t)

		res, err := f.svc.Handle(ctx, event("evt_c", ChargeConfirmed, "CHG11", ""))
		require.NoError(t, err)
		assert.Equal(t, OutcomeNeedsReview, res.Outcome)

		o, _ := f.store.GetOrderByNumber(ctx, "DT-LLLLLL")
		assert.Equal(t, orders.StatusCancelled, o.Status)
		assert.Equal(t, orders.PaymentNeedsReview, o.PaymentStatus)
		assert.Equal(t, 5, f.stock(t).StockQuantity)
		assert.Zero(t, f.pub.count(orders.TopicPaymentConfirmed))
	})
}

func TestRecoverCryptoOrder_AfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cryptoOrder(t, "DT-MMMMMM", "CHG12")

	_, err := f.svc.Handle(ctx, event("evt_exp", ChargeExpired, "CHG12", ""))
	require.NoError(t, err)

	// the only recorded event is the expiry; replaying it changes nothing
	o, err := f.svc.RecoverCryptoOrder(ctx, "DT-MMMMMM", false)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentExpired, o.PaymentStatus)
	assert.Equal(t, orders.StatusCancelled, o.Status)

	// operator saw the payment in the processor dashboard
	o, err = f.svc.RecoverCryptoOrder(ctx, "DT-MMMMMM", true)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentConfirmed, o.PaymentStatus)
	assert.Equal(t, orders.StatusConfirmed, o.Status)
	assert.Equal(t, 4, f.stock(t).StockQuantity)
	assert.Equal(t, 1, f.pub.count(orders.TopicPaymentConfirmed))

	_, err = f.svc.RecoverCryptoOrder(ctx, "DT-MMMMMM", true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.pub.count(orders.TopicPaymentConfirmed))
}

func TestRecoverCryptoOrder_ReplaysRecordedLatePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.cryptoOrder(t, "DT-NNNNNN", "CHG13")

	_, err := f.svc.Handle(ctx, event("evt_exp", ChargeExpired, "CHG13", ""))
	require.NoError(t, err)
	// a late payment recorded but never applied
	_, err = f.store.RecordPaymentEvent(ctx, orders.PaymentEvent{
		EventID: "evt_late", ChargeCode: "CHG13", OrderNumber: o.OrderNumber, Type: ChargeResolved,
		Payload: event("evt_late", ChargeResolved, "CHG13", o.OrderNumber).Raw,
	})
	require.NoError(t, err)

	got, err := f.svc.RecoverCryptoOrder(ctx, o.OrderNumber, false)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentConfirmed, got.PaymentStatus)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
	assert.Equal(t, 1, f.pub.count(orders.TopicPaymentConfirmed))
}
