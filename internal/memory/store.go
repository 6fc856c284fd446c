// Package memory holds in-process implementations of the storefront stores.
// Every operation runs under one mutex, which gives the same all-or-nothing
// behaviour the Postgres transactions give.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darktidesresearch/storefront/internal/orders"
)

type Store struct {
	mu           sync.Mutex
	products     map[string]orders.Product
	reservations map[string]orders.Reservation
	discounts    map[string]orders.DiscountCode // lower(code)
	orders       map[string]orders.Order        // order number
	events       map[string]orders.PaymentEvent
	eventOrder   []string
	now          func() time.Time
}

func NewStore() *Store {
	return &Store{
		products:     map[string]orders.Product{},
		reservations: map[string]orders.Reservation{},
		discounts:    map[string]orders.DiscountCode{},
		orders:       map[string]orders.Order{},
		events:       map[string]orders.PaymentEvent{},
		now:          time.Now,
	}
}

// SetClock replaces the store's notion of now.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) PutProduct(p orders.Product) orders.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	p.UpdatedAt = s.now().UTC()
	s.products[p.ID] = p
	return p
}

func (s *Store) PutDiscount(d orders.DiscountCode) orders.DiscountCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	s.discounts[strings.ToLower(d.Code)] = d
	return d
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) ReservationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}

func (s *Store) ListProducts(_ context.Context) ([]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Product
	for _, p := range s.products {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return orders.Product{}, orders.ErrProductNotFound
	}
	return p, nil
}

func (s *Store) ProductsByIDs(_ context.Context, ids []string) (map[string]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]orders.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) FindDiscount(_ context.Context, code string) (orders.DiscountCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.discounts[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return orders.DiscountCode{}, orders.ErrDiscountNotFound
	}
	return d, nil
}

func (s *Store) Reserve(_ context.Context, in orders.ReserveInput) (orders.Reservation, error) {
	if in.Quantity <= 0 {
		return orders.Reservation{}, fmt.Errorf("quantity must be positive, got %d", in.Quantity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[in.ProductID]
	if !ok {
		return orders.Reservation{}, orders.ErrProductNotFound
	}
	if !p.IsActive {
		return orders.Reservation{}, orders.ErrProductUnavailable
	}
	if p.Available() < in.Quantity {
		return orders.Reservation{}, orders.ErrInsufficientStock
	}
	p.ReservedQuantity += in.Quantity
	s.products[p.ID] = p

	res := orders.Reservation{
		ID:        uuid.NewString(),
		SessionID: in.SessionID,
		ProductID: in.ProductID,
		Quantity:  in.Quantity,
		ExpiresAt: in.ExpiresAt.UTC(),
		CreatedAt: s.now().UTC(),
	}
	s.reservations[res.ID] = res
	return res, nil
}

func (s *Store) ReleaseReservation(_ context.Context, sessionID, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[reservationID]
	if !ok || res.SessionID != sessionID {
		return orders.ErrReservationMissing
	}
	s.dropReservation(res)
	return nil
}

func (s *Store) dropReservation(res orders.Reservation) {
	delete(s.reservations, res.ID)
	if p, ok := s.products[res.ProductID]; ok {
		p.ReservedQuantity = max(p.ReservedQuantity-res.Quantity, 0)
		s.products[p.ID] = p
	}
}

func (s *Store) SessionReservations(_ context.Context, sessionID string) ([]orders.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []orders.Reservation
	for _, res := range s.reservations {
		if res.SessionID == sessionID && res.ExpiresAt.After(now) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SessionHeld(_ context.Context, sessionID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	held := map[string]int{}
	for _, res := range s.reservations {
		if res.SessionID == sessionID && res.ExpiresAt.After(now) {
			held[res.ProductID] += res.Quantity
		}
	}
	return held, nil
}

func (s *Store) ReleaseExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, res := range s.reservations {
		if !res.ExpiresAt.After(now) {
			s.dropReservation(res)
			n++
		}
	}
	return n, nil
}

func (s *Store) Finalize(_ context.Context, in orders.FinalizeInput) (orders.FinalizeResult, error) {
	if len(in.Items) == 0 {
		return orders.FinalizeResult{}, orders.ErrEmptyCart
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.orders[in.OrderNumber]; ok {
		return orders.FinalizeResult{Order: existing, Duplicate: true}, nil
	}

	held := map[string]int{}
	var sessionRes []orders.Reservation
	if in.SessionID != "" {
		for _, res := range s.reservations {
			if res.SessionID == in.SessionID {
				held[res.ProductID] += res.Quantity
				sessionRes = append(sessionRes, res)
			}
		}
	}
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return orders.FinalizeResult{}, fmt.Errorf("invalid quantity for product %s", it.ProductID)
		}
	}
	snapshot, err := orders.CheckLines(in.Items, s.products, held)
	if err != nil {
		return orders.FinalizeResult{}, err
	}

	wanted := map[string]int{}
	for _, it := range in.Items {
		wanted[it.ProductID] += it.Quantity
	}
	for id, qty := range wanted {
		p := s.products[id]
		p.StockQuantity -= qty
		s.products[id] = p
	}
	for _, res := range sessionRes {
		s.dropReservation(res)
	}

	now := s.now().UTC()
	o := orders.Order{
		ID:            uuid.NewString(),
		OrderNumber:   in.OrderNumber,
		SessionID:     in.SessionID,
		Items:         snapshot,
		Customer:      in.Customer,
		Totals:        in.Totals,
		PaymentMethod: in.PaymentMethod,
		PaymentStatus: orders.InitialPaymentStatus(in.PaymentMethod),
		Status:        orders.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.orders[o.OrderNumber] = o

	if code := strings.ToLower(in.Totals.DiscountCode); code != "" {
		if d, ok := s.discounts[code]; ok {
			d.UsageCount++
			s.discounts[code] = d
		}
	}
	return orders.FinalizeResult{Order: o}, nil
}

func (s *Store) GetOrderByNumber(_ context.Context, orderNumber string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNumber]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

func (s *Store) FindOrderByCharge(_ context.Context, chargeCode string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.CoinbaseChargeCode != "" && o.CoinbaseChargeCode == chargeCode {
			return o, nil
		}
	}
	return orders.Order{}, orders.ErrOrderNotFound
}

func (s *Store) orderByID(id string) (orders.Order, bool) {
	for _, o := range s.orders {
		if o.ID == id {
			return o, true
		}
	}
	return orders.Order{}, false
}

func (s *Store) AttachCharge(_ context.Context, orderID, chargeCode, hostedURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orderByID(orderID)
	if !ok {
		return orders.ErrOrderNotFound
	}
	if o.CoinbaseChargeCode != "" && o.CoinbaseChargeCode != chargeCode {
		return orders.ErrChargeConflict
	}
	for _, other := range s.orders {
		if other.ID != o.ID && other.CoinbaseChargeCode == chargeCode {
			return orders.ErrChargeConflict
		}
	}
	o.CoinbaseChargeCode = chargeCode
	if hostedURL != "" {
		o.ChargeHostedURL = hostedURL
	}
	o.UpdatedAt = s.now().UTC()
	s.orders[o.OrderNumber] = o
	return nil
}

func (s *Store) restock(items []orders.OrderItem) {
	for _, it := range items {
		if p, ok := s.products[it.ProductID]; ok {
			p.StockQuantity += it.Quantity
			s.products[p.ID] = p
		}
	}
}

func (s *Store) reclaim(items []orders.OrderItem) {
	for _, it := range items {
		p := s.products[it.ProductID]
		p.StockQuantity -= it.Quantity
		s.products[p.ID] = p
	}
}

func (s *Store) ApplyCryptoPayment(_ context.Context, orderID string, to orders.PaymentStatus, details json.RawMessage) (orders.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orderByID(orderID)
	if !ok {
		return orders.Order{}, false, orders.ErrOrderNotFound
	}
	if o.PaymentMethod != orders.PaymentCrypto {
		return o, false, fmt.Errorf("%w: %s is a %s order", orders.ErrInvalidTransition, o.OrderNumber, o.PaymentMethod)
	}
	change, ok := orders.PlanCryptoPayment(o, to, s.products)
	if !ok {
		return o, false, nil
	}
	switch {
	case change.Restock:
		s.restock(o.Items)
	case change.Reclaim:
		s.reclaim(o.Items)
	}
	o.PaymentStatus = change.PaymentStatus
	o.Status = change.Status
	if len(details) > 0 {
		o.PaymentDetails = details
	}
	o.UpdatedAt = s.now().UTC()
	s.orders[o.OrderNumber] = o
	return o, true, nil
}

func (s *Store) SetStatus(_ context.Context, orderNumber string, to orders.Status) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNumber]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	if o.Status == to {
		return o, nil
	}
	if !orders.CanTransition(o.Status, to) {
		return orders.Order{}, fmt.Errorf("%w: %s -> %s", orders.ErrInvalidTransition, o.Status, to)
	}
	if to == orders.StatusCancelled {
		s.restock(o.Items)
	}
	o.Status = to
	o.UpdatedAt = s.now().UTC()
	s.orders[orderNumber] = o
	return o, nil
}

func (s *Store) ConfirmVenmo(_ context.Context, orderNumber string) (orders.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNumber]
	if !ok {
		return orders.Order{}, false, orders.ErrOrderNotFound
	}
	if o.PaymentMethod != orders.PaymentVenmo || o.Status == orders.StatusCancelled {
		return o, false, fmt.Errorf("%w: cannot confirm venmo payment for %s", orders.ErrInvalidTransition, orderNumber)
	}
	if o.PaymentStatus == orders.PaymentCompleted {
		return o, false, nil
	}
	o.PaymentStatus = orders.PaymentCompleted
	if o.Status == orders.StatusPending {
		o.Status = orders.StatusConfirmed
	}
	o.UpdatedAt = s.now().UTC()
	s.orders[orderNumber] = o
	return o, true, nil
}

func (s *Store) ListOrders(_ context.Context, status orders.Status, limit int) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []orders.Order
	for _, o := range s.orders {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RecordPaymentEvent(_ context.Context, ev orders.PaymentEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.EventID]; ok {
		return false, nil
	}
	ev.ReceivedAt = s.now().UTC()
	s.events[ev.EventID] = ev
	s.eventOrder = append(s.eventOrder, ev.EventID)
	return true, nil
}

func (s *Store) PaymentEvents(_ context.Context, orderNumber string) ([]orders.PaymentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.PaymentEvent
	for _, id := range s.eventOrder {
		if ev := s.events[id]; ev.OrderNumber == orderNumber {
			out = append(out, ev)
		}
	}
	return out, nil
}
