package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darktidesresearch/storefront/internal/memory"
	"github.com/darktidesresearch/storefront/internal/orders"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	return NewService(st, st, 15*time.Minute, nil, nil), st
}

func session(t *testing.T, id string) Session {
	t.Helper()
	s, err := ParseSession(id)
	require.NoError(t, err)
	return s
}

func TestParseSession(t *testing.T) {
	s, err := ParseSession("  sess_0123456789  ")
	require.NoError(t, err)
	assert.Equal(t, "sess_0123456789", s.ID)

	for _, bad := range []string{"", "short", "has space in it", "semi;colon-xxxx"} {
		_, err := ParseSession(bad)
		assert.ErrorIs(t, err, ErrInvalidSession, bad)
	}
}

func TestCheckAvailability(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	active := st.PutProduct(orders.Product{Name: "A", SKU: "A-1", Price: decimal.NewFromInt(40), StockQuantity: 5, ReservedQuantity: 3, IsActive: true})
	inactive := st.PutProduct(orders.Product{Name: "B", SKU: "B-1", Price: decimal.NewFromInt(30), StockQuantity: 100, IsActive: false})

	assert.True(t, svc.CheckAvailability(ctx, active.ID, 2).Available)

	got := svc.CheckAvailability(ctx, active.ID, 3)
	assert.False(t, got.Available)
	assert.Equal(t, UnavailableMessage, got.Message)

	got = svc.CheckAvailability(ctx, inactive.ID, 1)
	assert.False(t, got.Available, "inactive products never pass regardless of stock")
	assert.Equal(t, UnavailableMessage, got.Message)

	got = svc.CheckAvailability(ctx, "missing", 1)
	assert.False(t, got.Available)
	assert.Equal(t, UnavailableMessage, got.Message)
}

type brokenCatalog struct{}

func (brokenCatalog) GetProduct(context.Context, string) (orders.Product, error) {
	return orders.Product{}, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func (brokenCatalog) ProductsByIDs(context.Context, []string) (map[string]orders.Product, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func TestCheckAvailability_BackendErrorFailsClosed(t *testing.T) {
	st := memory.NewStore()
	svc := NewService(brokenCatalog{}, st, time.Minute, nil, nil)

	got := svc.CheckAvailability(context.Background(), "p1", 1)
	assert.False(t, got.Available)
	assert.Equal(t, UnavailableMessage, got.Message)
	assert.NotContains(t, got.Message, "connection refused")

	v := svc.ValidateCart(context.Background(), Session{}, []CartLine{{ProductID: "p1", Quantity: 1}})
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"p1"}, v.InvalidItems)
}

func TestReserve_ConcurrentNeverOversells(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	const stock, attempts = 7, 40
	p := st.PutProduct(orders.Product{Name: "A", SKU: "A-1", Price: decimal.NewFromInt(40), StockQuantity: stock, IsActive: true})

	var ok, failed int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := svc.Reserve(ctx, Session{ID: "shopper-session-" + string(rune('a'+i%26))}, p.ID, 1)
			if res.OK {
				atomic.AddInt64(&ok, 1)
				return
			}
			assert.Equal(t, UnavailableMessage, res.Reason)
			atomic.AddInt64(&failed, 1)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, stock, ok)
	assert.EqualValues(t, attempts-stock, failed)

	got, err := st.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, stock, got.ReservedQuantity)
	assert.LessOrEqual(t, got.ReservedQuantity, got.StockQuantity)
}

func TestReserveAndRelease(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	p := st.PutProduct(orders.Product{Name: "A", SKU: "A-1", Price: decimal.NewFromInt(40), StockQuantity: 5, IsActive: true})
	me := session(t, "session-me-0001")
	other := session(t, "session-other-01")

	res := svc.Reserve(ctx, me, p.ID, 2)
	require.True(t, res.OK)
	assert.NotEmpty(t, res.ReservationID)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), res.ExpiresAt, 5*time.Second)

	held, err := svc.ListSession(ctx, me)
	require.NoError(t, err)
	require.Len(t, held, 1)

	assert.ErrorIs(t, svc.Release(ctx, other, res.ReservationID), orders.ErrReservationMissing)
	require.NoError(t, svc.Release(ctx, me, res.ReservationID))
	assert.ErrorIs(t, svc.Release(ctx, me, res.ReservationID), orders.ErrReservationMissing)

	got, _ := st.GetProduct(ctx, p.ID)
	assert.Zero(t, got.ReservedQuantity)
}

func TestReserve_Rejections(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	p := st.PutProduct(orders.Product{Name: "A", SKU: "A-1", Price: decimal.NewFromInt(40), StockQuantity: 5, IsActive: false})
	me := session(t, "session-me-0001")

	assert.False(t, svc.Reserve(ctx, Session{}, p.ID, 1).OK)
	assert.False(t, svc.Reserve(ctx, me, p.ID, 0).OK)

	res := svc.Reserve(ctx, me, p.ID, 1)
	assert.False(t, res.OK)
	assert.Equal(t, UnavailableMessage, res.Reason)
}

func TestValidateCart(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	a := st.PutProduct(orders.Product{ID: "A", Name: "A", SKU: "A-1", Price: decimal.RequireFromString("40.00"), StockQuantity: 5, IsActive: true})
	b := st.PutProduct(orders.Product{ID: "B", Name: "B", SKU: "B-1", Price: decimal.RequireFromString("30.00"), StockQuantity: 0, IsActive: true})

	got := svc.ValidateCart(ctx, Session{}, []CartLine{{ProductID: a.ID, Quantity: 1}, {ProductID: b.ID, Quantity: 1}})
	assert.False(t, got.Valid)
	assert.Equal(t, []string{"B"}, got.InvalidItems)

	got = svc.ValidateCart(ctx, Session{}, []CartLine{{ProductID: a.ID, Quantity: 1}})
	assert.True(t, got.Valid)
	assert.Empty(t, got.InvalidItems)

	// does not reserve anything
	pa, _ := st.GetProduct(ctx, a.ID)
	assert.Zero(t, pa.ReservedQuantity)
}

func TestValidateCart_SessionHoldsCountForOwner(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	p := st.PutProduct(orders.Product{ID: "A", Name: "A", SKU: "A-1", Price: decimal.NewFromInt(40), StockQuantity: 2, IsActive: true})
	me := session(t, "session-me-0001")

	require.True(t, svc.Reserve(ctx, me, p.ID, 2).OK)

	assert.True(t, svc.ValidateCart(ctx, me, []CartLine{{ProductID: "A", Quantity: 2}}).Valid)
	assert.False(t, svc.ValidateCart(ctx, session(t, "session-other-01"), []CartLine{{ProductID: "A", Quantity: 1}}).Valid)

	// duplicate lines are summed
	got := svc.ValidateCart(ctx, me, []CartLine{{ProductID: "A", Quantity: 2}, {ProductID: "A", Quantity: 1}})
	assert.False(t, got.Valid)
	assert.Equal(t, []string{"A"}, got.InvalidItems)
}

func TestValidateCart_Empty(t *testing.T) {
	svc, _ := newService(t)
	got := svc.ValidateCart(context.Background(), Session{}, nil)
	assert.False(t, got.Valid)
}
