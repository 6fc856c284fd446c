package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/discount"
	"github.com/darktidesresearch/storefront/internal/inventory"
	"github.com/darktidesresearch/storefront/internal/logging"
	"github.com/darktidesresearch/storefront/internal/metrics"
	"github.com/darktidesresearch/storefront/internal/orders"
	"github.com/darktidesresearch/storefront/internal/payment"
	"github.com/darktidesresearch/storefront/internal/redisx"
)

const (
	RetryMessage        = "Unable to process order, please try again"
	CartChangedMessage  = "Your cart has changed, please review your order"
	ChargeFailedMessage = "Your order is saved but the crypto checkout could not be started, please try again"
)

type Store interface {
	ProductsByIDs(ctx context.Context, ids []string) (map[string]orders.Product, error)
	Finalize(ctx context.Context, in orders.FinalizeInput) (orders.FinalizeResult, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (orders.Order, error)
	AttachCharge(ctx context.Context, orderID, chargeCode, hostedURL string) error
}

type CartValidator interface {
	ValidateCart(ctx context.Context, sess inventory.Session, lines []inventory.CartLine) inventory.CartValidation
}

type DiscountValidator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) discount.Result
}

type ChargeCreator interface {
	CreateCharge(ctx context.Context, req payment.ChargeRequest) (payment.Charge, error)
}

type Options struct {
	Producer      string
	VenmoHandle   string
	Shipping      ShippingPolicy
	PublicBaseURL string
}

type Item struct {
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type Request struct {
	OrderNumber   string               `json:"order_number"`
	Customer      orders.CustomerData  `json:"customer"`
	Items         []Item               `json:"items"`
	DiscountCode  string               `json:"discount_code,omitempty"`
	PaymentMethod orders.PaymentMethod `json:"payment_method"`
	// Totals as the client computed them; when present they must match the
	// server quote.
	Totals *orders.Totals `json:"totals,omitempty"`
}

type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindValidation
	KindUnavailable
	KindBackend
)

type VenmoInstructions struct {
	Handle string          `json:"handle"`
	Memo   string          `json:"memo"`
	Amount decimal.Decimal `json:"amount"`
}

type Result struct {
	Success       bool                 `json:"success"`
	OrderNumber   string               `json:"order_number,omitempty"`
	Duplicate     bool                 `json:"duplicate,omitempty"`
	PaymentMethod orders.PaymentMethod `json:"payment_method,omitempty"`
	Status        orders.Status        `json:"status,omitempty"`
	PaymentStatus orders.PaymentStatus `json:"payment_status,omitempty"`
	Totals        *orders.Totals       `json:"totals,omitempty"`
	Venmo         *VenmoInstructions   `json:"venmo,omitempty"`
	HostedURL     string               `json:"hosted_url,omitempty"`
	Message       string               `json:"message,omitempty"`
	Fields        map[string]string    `json:"fields,omitempty"`
	InvalidItems  []string             `json:"invalid_items,omitempty"`
	Kind          ErrorKind            `json:"-"`
}

type Service struct {
	store     Store
	cart      CartValidator
	discounts DiscountValidator
	charges   ChargeCreator
	cache     redisx.Cache
	pub       orders.Publisher
	opts      Options
	log       *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

func NewService(store Store, cart CartValidator, discounts DiscountValidator, charges ChargeCreator,
	cache redisx.Cache, pub orders.Publisher, opts Options, log *zap.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:     store,
		cart:      cart,
		discounts: discounts,
		charges:   charges,
		cache:     cache,
		pub:       pub,
		opts:      opts,
		log:       log.Named("checkout"),
		metrics:   m,
		tracer:    otel.Tracer("github.com/darktidesresearch/storefront/internal/checkout"),
	}
}

// Checkout finalizes the order and starts the payment branch for its
// method. Resubmitting the same order number returns the stored order.
func (s *Service) Checkout(ctx context.Context, sess inventory.Session, req Request) (res Result) {
	ctx, span := s.tracer.Start(ctx, "checkout.place_order",
		trace.WithAttributes(attribute.String("payment.method", string(req.PaymentMethod))))
	defer func() {
		span.SetAttributes(attribute.Bool("checkout.success", res.Success), attribute.Bool("checkout.duplicate", res.Duplicate))
		span.End()
	}()

	req.Customer = req.Customer.Normalize()
	req.OrderNumber = strings.ToUpper(strings.TrimSpace(req.OrderNumber))
	if fields := validateRequest(req); len(fields) > 0 {
		s.metrics.OrderFinalized(string(req.PaymentMethod), "invalid")
		return Result{Kind: KindValidation, Message: "Please correct the highlighted fields", Fields: fields}
	}
	if req.OrderNumber == "" {
		n, err := NewOrderNumber()
		if err != nil {
			s.log.Error("order_number_generation_failed", zap.Error(err))
			return Result{Kind: KindBackend, Message: RetryMessage}
		}
		req.OrderNumber = n
	}
	span.SetAttributes(attribute.String("order.number", req.OrderNumber))
	log := logging.FromContext(ctx, s.log).With(zap.String("order_number", req.OrderNumber))
	ctx = logging.ContextWithLogger(ctx, log)

	if o, ok := s.finalizedShortcut(ctx, req.OrderNumber); ok {
		s.metrics.OrderFinalized(string(o.PaymentMethod), "duplicate")
		return s.startPayment(ctx, o, true)
	}

	lines := make([]inventory.CartLine, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, inventory.CartLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	if v := s.cart.ValidateCart(ctx, sess, lines); !v.Valid {
		// a retry of an order whose stock is already spent fails the gate
		if o, err := s.store.GetOrderByNumber(ctx, req.OrderNumber); err == nil {
			s.metrics.OrderFinalized(string(o.PaymentMethod), "duplicate")
			return s.startPayment(ctx, o, true)
		}
		s.metrics.OrderFinalized(string(req.PaymentMethod), "unavailable")
		return Result{Kind: KindUnavailable, Message: inventory.UnavailableMessage, InvalidItems: v.InvalidItems}
	}

	items, failure, ok := s.priceItems(ctx, req.Items)
	if !ok {
		s.metrics.OrderFinalized(string(req.PaymentMethod), "invalid")
		return failure
	}
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
	}

	var (
		code   string
		amount = decimal.Zero
	)
	if raw := strings.TrimSpace(req.DiscountCode); raw != "" {
		d := s.discounts.Validate(ctx, raw, subtotal)
		if !d.Valid {
			if d.Message == discount.UnavailableMessage {
				return Result{Kind: KindBackend, Message: RetryMessage}
			}
			s.metrics.OrderFinalized(string(req.PaymentMethod), "invalid")
			return Result{Kind: KindValidation, Message: d.Message, Fields: map[string]string{"discount_code": d.Message}}
		}
		code, amount = d.Code, d.DiscountAmount
	}

	totals := Quote(items, s.opts.Shipping, code, amount)
	if req.Totals != nil && !sameTotals(*req.Totals, totals) {
		s.metrics.OrderFinalized(string(req.PaymentMethod), "invalid")
		return Result{Kind: KindValidation, Message: CartChangedMessage, Fields: map[string]string{"totals": CartChangedMessage}, Totals: &totals}
	}

	fr, err := s.store.Finalize(ctx, orders.FinalizeInput{
		OrderNumber:   req.OrderNumber,
		SessionID:     sess.ID,
		Customer:      req.Customer,
		Items:         items,
		Totals:        totals,
		PaymentMethod: req.PaymentMethod,
	})
	switch {
	case err == nil:
	case orders.IsAvailabilityConflict(err):
		s.metrics.OrderFinalized(string(req.PaymentMethod), "unavailable")
		log.Info("finalize_rejected", zap.Error(err))
		return Result{Kind: KindUnavailable, Message: inventory.UnavailableMessage}
	case errors.Is(err, orders.ErrPriceChanged):
		s.metrics.OrderFinalized(string(req.PaymentMethod), "invalid")
		return Result{Kind: KindValidation, Message: CartChangedMessage, Fields: map[string]string{"items": CartChangedMessage}}
	default:
		s.metrics.OrderFinalized(string(req.PaymentMethod), "error")
		log.Error("finalize_failed", zap.Error(err))
		return Result{Kind: KindBackend, Message: RetryMessage}
	}

	if fr.Duplicate {
		s.metrics.OrderFinalized(string(fr.Order.PaymentMethod), "duplicate")
		return s.startPayment(ctx, fr.Order, true)
	}

	s.metrics.OrderFinalized(string(fr.Order.PaymentMethod), "ok")
	log.Info("order_finalized",
		zap.String("order_id", fr.Order.ID),
		zap.String("payment_method", string(fr.Order.PaymentMethod)),
		zap.String("total", fr.Order.Totals.Total.StringFixed(2)))
	if s.cache != nil {
		if err := s.cache.Set(ctx, fmt.Sprintf(redisx.KeyIdemFinalize, fr.Order.OrderNumber), fr.Order.ID, redisx.TTLIdempotency); err != nil {
			log.Warn("idempotency_shortcut_failed", zap.Error(err))
		}
	}
	s.emitPlaced(ctx, span, fr.Order)
	return s.startPayment(ctx, fr.Order, false)
}

func (s *Service) finalizedShortcut(ctx context.Context, orderNumber string) (orders.Order, bool) {
	if s.cache == nil {
		return orders.Order{}, false
	}
	if _, err := s.cache.Get(ctx, fmt.Sprintf(redisx.KeyIdemFinalize, orderNumber)); err != nil {
		return orders.Order{}, false
	}
	o, err := s.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return orders.Order{}, false
	}
	return o, true
}

// priceItems snapshots catalog name, SKU and price for every line. A client
// unit price that disagrees with the catalog means the cart is stale.
func (s *Service) priceItems(ctx context.Context, in []Item) ([]orders.OrderItem, Result, bool) {
	ids := make([]string, 0, len(in))
	for _, it := range in {
		ids = append(ids, it.ProductID)
	}
	products, err := s.store.ProductsByIDs(ctx, ids)
	if err != nil {
		logging.FromContext(ctx, s.log).Error("price_lookup_failed", zap.Error(err))
		return nil, Result{Kind: KindBackend, Message: RetryMessage}, false
	}
	out := make([]orders.OrderItem, 0, len(in))
	for _, it := range in {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, Result{Kind: KindUnavailable, Message: inventory.UnavailableMessage, InvalidItems: []string{it.ProductID}}, false
		}
		if it.UnitPrice != nil && !it.UnitPrice.Equal(p.Price) {
			return nil, Result{Kind: KindValidation, Message: CartChangedMessage, Fields: map[string]string{"items": CartChangedMessage}}, false
		}
		out = append(out, orders.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			SKU:       p.SKU,
			UnitPrice: p.Price,
			Quantity:  it.Quantity,
		})
	}
	return out, Result{}, true
}

func (s *Service) emitPlaced(ctx context.Context, span trace.Span, o orders.Order) {
	if s.pub == nil {
		return
	}
	var traceID string
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	payload := orders.OrderPlacedPayload{
		OrderNumber:   o.OrderNumber,
		PaymentMethod: o.PaymentMethod,
		Customer:      o.Customer,
		Items:         o.Items,
		Totals:        o.Totals,
	}
	if o.PaymentMethod == orders.PaymentVenmo {
		payload.VenmoHandle = s.opts.VenmoHandle
	}
	if _, err := orders.Emit(s.pub, orders.TopicOrderPlaced, s.opts.Producer, orders.EventOrderPlaced, o.OrderNumber, traceID, payload); err != nil {
		logging.FromContext(ctx, s.log).Error("emit_order_placed_failed", zap.Error(err))
	}
}

func (s *Service) startPayment(ctx context.Context, o orders.Order, duplicate bool) Result {
	totals := o.Totals
	res := Result{
		Success:       true,
		OrderNumber:   o.OrderNumber,
		Duplicate:     duplicate,
		PaymentMethod: o.PaymentMethod,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Totals:        &totals,
	}
	switch o.PaymentMethod {
	case orders.PaymentVenmo:
		res.Venmo = &VenmoInstructions{Handle: s.opts.VenmoHandle, Memo: o.OrderNumber, Amount: o.Totals.Total}
	case orders.PaymentCrypto:
		url, err := s.ensureCharge(ctx, o)
		if err != nil {
			logging.FromContext(ctx, s.log).Error("create_charge_failed", zap.Error(err))
			res.Success = false
			res.Kind = KindBackend
			res.Message = ChargeFailedMessage
			return res
		}
		res.HostedURL = url
	}
	return res
}

// ensureCharge returns the hosted checkout URL for a crypto order, creating
// the processor charge only if the order has none yet.
func (s *Service) ensureCharge(ctx context.Context, o orders.Order) (string, error) {
	if o.CoinbaseChargeCode != "" || o.PaymentStatus.Terminal() || o.Status == orders.StatusCancelled {
		return o.ChargeHostedURL, nil
	}
	base := s.opts.PublicBaseURL
	charge, err := s.charges.CreateCharge(ctx, payment.ChargeRequest{
		OrderNumber:   o.OrderNumber,
		Amount:        o.Totals.Total,
		CustomerEmail: o.Customer.Email,
		CustomerName:  o.Customer.FullName(),
		Description:   describe(o.Items),
		RedirectURL:   base + "/order/" + o.OrderNumber,
		CancelURL:     base + "/checkout?order=" + o.OrderNumber,
	})
	if err != nil {
		return "", err
	}
	err = s.store.AttachCharge(ctx, o.ID, charge.Code, charge.HostedURL)
	if errors.Is(err, orders.ErrChargeConflict) {
		// a concurrent resubmission attached its charge first
		cur, err := s.store.GetOrderByNumber(ctx, o.OrderNumber)
		if err != nil {
			return "", err
		}
		return cur.ChargeHostedURL, nil
	}
	if err != nil {
		return "", err
	}
	logging.FromContext(ctx, s.log).Info("charge_created", zap.String("charge_code", charge.Code))
	return charge.HostedURL, nil
}

func describe(items []orders.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%dx %s", it.Quantity, it.Name))
	}
	d := strings.Join(parts, ", ")
	if len(d) > 200 {
		d = d[:197] + "..."
	}
	return d
}

func validateRequest(req Request) map[string]string {
	fields := req.Customer.Validate()
	if !req.PaymentMethod.Valid() {
		fields["payment_method"] = "Please choose a payment method"
	}
	if req.OrderNumber != "" && !ValidOrderNumber(req.OrderNumber) {
		fields["order_number"] = "Invalid order number"
	}
	if len(req.Items) == 0 {
		fields["items"] = "Your cart is empty"
	}
	for _, it := range req.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			fields["items"] = "Every item needs a quantity of at least 1"
			break
		}
	}
	return fields
}

func sameTotals(client, server orders.Totals) bool {
	return client.Subtotal.Equal(server.Subtotal) &&
		client.ShippingCost.Equal(server.ShippingCost) &&
		client.DiscountAmount.Equal(server.DiscountAmount) &&
		client.Total.Equal(server.Total)
}
