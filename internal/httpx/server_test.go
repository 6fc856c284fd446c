package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darktidesresearch/storefront/internal/backoffice"
	"github.com/darktidesresearch/storefront/internal/checkout"
	"github.com/darktidesresearch/storefront/internal/contact"
	"github.com/darktidesresearch/storefront/internal/discount"
	"github.com/darktidesresearch/storefront/internal/inventory"
	"github.com/darktidesresearch/storefront/internal/memory"
	"github.com/darktidesresearch/storefront/internal/metrics"
	"github.com/darktidesresearch/storefront/internal/orders"
	"github.com/darktidesresearch/storefront/internal/payment"
)

const (
	testSession = "session-http-0001"
	testSecret  = "whsec_test"
	testToken   = "admin-token"
)

type nopPublisher struct{ n int }

func (p *nopPublisher) Publish(string, []byte, []byte, ...kafka.Header) { p.n++ }

type stubCharges struct{}

func (stubCharges) CreateCharge(_ context.Context, req payment.ChargeRequest) (payment.Charge, error) {
	return payment.Charge{Code: "CHG-" + req.OrderNumber, HostedURL: "https://hosted/" + req.OrderNumber}, nil
}

type env struct {
	store  *memory.Store
	pub    *nopPublisher
	router *chi.Mux
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memory.NewStore()
	cache := memory.NewCache()
	pub := &nopPublisher{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	st.PutProduct(orders.Product{ID: "p1", Name: "BPC-157", SKU: "BPC-5", Price: decimal.RequireFromString("40.00"), StockQuantity: 2, IsActive: true, DisplayOrder: 1})
	st.PutProduct(orders.Product{ID: "p2", Name: "Hidden", SKU: "H-1", Price: decimal.RequireFromString("10.00"), StockQuantity: 9, IsActive: false})
	st.PutDiscount(orders.DiscountCode{Code: "TEN", DiscountType: orders.DiscountPercentage, DiscountValue: decimal.NewFromInt(10), IsActive: true})

	inv := inventory.NewService(st, st, 15*time.Minute, nil, m)
	discounts := discount.NewValidator(st, nil)
	co := checkout.NewService(st, inv, discounts, stubCharges{}, cache, pub, checkout.Options{
		Producer:    "storefront-api",
		VenmoHandle: "@DarkTidesResearch",
		Shipping:    checkout.ShippingPolicy{FlatRate: decimal.NewFromInt(10), FreeThreshold: decimal.NewFromInt(200)},
	}, nil, m)
	webhooks := payment.NewWebhookService(st, cache, pub, "storefront-api", nil, m)

	r := NewRouter(nil, m, reg)
	(&StorefrontHandler{Products: st, Inventory: inv, Discounts: discounts, Contact: contact.NewService(pub, "storefront-api", nil)}).Register(r)
	(&OrdersHandler{Checkout: co}).Register(r)
	(&WebhookHandler{Secret: testSecret, Service: webhooks}).Register(r)
	(&AdminHandler{Token: testToken, Service: backoffice.NewService(st, webhooks, cache, nil)}).Register(r)
	return &env{store: st, pub: pub, router: r}
}

func (e *env) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case []byte:
			buf.Write(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func withSession() map[string]string { return map[string]string{headerSession: testSession} }

func checkoutBody(number string, method orders.PaymentMethod) map[string]any {
	return map[string]any{
		"order_number":   number,
		"payment_method": method,
		"customer": map[string]string{
			"email": "ada@example.com", "first_name": "Ada", "last_name": "Lovelace",
			"address1": "1 Harbor Way", "city": "Tidewater", "state": "CA", "postal_code": "90210", "country": "US",
		},
		"items": []map[string]any{{"product_id": "p1", "quantity": 1}},
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = e.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_http_request_duration_seconds")
}

func TestListProducts_ActiveOnly(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/products", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ps := decode[[]productView](t, rec)
	require.Len(t, ps, 1)
	assert.Equal(t, "p1", ps[0].ID)
	assert.True(t, ps[0].InStock)
	assert.NotContains(t, rec.Body.String(), `"available"`, "exact counts stay private")
	assert.NotContains(t, rec.Body.String(), "stock_quantity")
}

func TestReservationFlow(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/reservations", reserveReq{ProductID: "p1", Quantity: 2}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "session header required")

	rec = e.do(t, http.MethodPost, "/api/reservations", reserveReq{ProductID: "p1", Quantity: 2}, withSession())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[inventory.ReserveResult](t, rec)
	assert.True(t, res.OK)

	other := map[string]string{headerSession: "session-http-0002"}
	rec = e.do(t, http.MethodPost, "/api/reservations", reserveReq{ProductID: "p1", Quantity: 1}, other)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, inventory.UnavailableMessage, decode[inventory.ReserveResult](t, rec).Reason)

	rec = e.do(t, http.MethodGet, "/api/products/p1/availability?qty=1", nil, nil)
	assert.False(t, decode[inventory.Availability](t, rec).Available)

	rec = e.do(t, http.MethodGet, "/api/reservations", nil, withSession())
	assert.Len(t, decode[[]orders.Reservation](t, rec), 1)

	rec = e.do(t, http.MethodDelete, "/api/reservations/"+res.ReservationID, nil, withSession())
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/products/p1/availability?qty=2", nil, nil)
	assert.True(t, decode[inventory.Availability](t, rec).Available)
}

func TestValidateCartAndDiscount(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/cart/validate", cartReq{Items: []inventory.CartLine{{ProductID: "p1", Quantity: 3}}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[inventory.CartValidation](t, rec)
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"p1"}, v.InvalidItems)

	rec = e.do(t, http.MethodPost, "/api/discounts/validate", map[string]any{"code": "ten", "subtotal": "80.00"}, nil)
	d := decode[discount.Result](t, rec)
	assert.True(t, d.Valid)
	assert.Equal(t, "8", d.DiscountAmount.String())

	rec = e.do(t, http.MethodPost, "/api/discounts/validate", map[string]any{"code": "nope", "subtotal": "80.00"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, discount.InvalidMessage, decode[discount.Result](t, rec).Message)
}

func TestCheckout_StatusCodes(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/checkout", checkoutBody("DT-HTTP01", orders.PaymentVenmo), withSession())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[checkout.Result](t, rec)
	assert.Equal(t, "DT-HTTP01", res.OrderNumber)
	require.NotNil(t, res.Venmo)
	assert.Equal(t, "DT-HTTP01", res.Venmo.Memo)

	rec = e.do(t, http.MethodPost, "/api/checkout", checkoutBody("DT-HTTP01", orders.PaymentVenmo), withSession())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[checkout.Result](t, rec).Duplicate)
	assert.Equal(t, 1, e.store.OrderCount())

	bad := checkoutBody("DT-HTTP02", orders.PaymentVenmo)
	bad["customer"] = map[string]string{"email": "nope"}
	rec = e.do(t, http.MethodPost, "/api/checkout", bad, withSession())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode[checkout.Result](t, rec).Fields)

	big := checkoutBody("DT-HTTP03", orders.PaymentVenmo)
	big["items"] = []map[string]any{{"product_id": "p1", "quantity": 5}}
	rec = e.do(t, http.MethodPost, "/api/checkout", big, withSession())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, inventory.UnavailableMessage, decode[checkout.Result](t, rec).Message)

	rec = e.do(t, http.MethodPost, "/api/checkout", []byte("{"), withSession())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderStatus(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/checkout", checkoutBody("DT-STAT01", orders.PaymentCrypto), withSession())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "https://hosted/DT-STAT01", decode[checkout.Result](t, rec).HostedURL)

	rec = e.do(t, http.MethodGet, "/api/orders/DT-STAT01/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[checkout.StatusView](t, rec)
	assert.Equal(t, orders.PaymentPendingCrypto, v.PaymentStatus)
	assert.NotContains(t, rec.Body.String(), "ada@example.com")

	rec = e.do(t, http.MethodGet, "/api/orders/DT-NOPE00/status", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func webhookBody(id, typ, code, orderNumber string) []byte {
	b, _ := json.Marshal(map[string]any{
		"event": map[string]any{
			"id": id, "type": typ,
			"data": map[string]any{"code": code, "metadata": map[string]string{"order_number": orderNumber}},
		},
	})
	return b
}

func TestWebhook(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/checkout", checkoutBody("DT-HOOK01", orders.PaymentCrypto), withSession())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	placed := e.pub.n

	body := webhookBody("evt_1", payment.ChargeConfirmed, "CHG-DT-HOOK01", "DT-HOOK01")

	rec = e.do(t, http.MethodPost, "/webhooks/coinbase", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing signature")
	rec = e.do(t, http.MethodPost, "/webhooks/coinbase", body, map[string]string{payment.SignatureHeader: payment.Sign(body, "wrong")})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	signed := map[string]string{payment.SignatureHeader: payment.Sign(body, testSecret)}
	rec = e.do(t, http.MethodPost, "/webhooks/coinbase", body, signed)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "applied", decode[map[string]string](t, rec)["status"])

	rec = e.do(t, http.MethodPost, "/webhooks/coinbase", body, signed)
	assert.Equal(t, "duplicate", decode[map[string]string](t, rec)["status"])
	assert.Equal(t, placed+1, e.pub.n, "one PaymentConfirmed event")

	rec = e.do(t, http.MethodGet, "/api/orders/DT-HOOK01/status", nil, nil)
	assert.Equal(t, orders.PaymentConfirmed, decode[checkout.StatusView](t, rec).PaymentStatus)

	orphan := webhookBody("evt_2", payment.ChargeConfirmed, "CHG-X", "DT-ORPH01")
	rec = e.do(t, http.MethodPost, "/webhooks/coinbase", orphan, map[string]string{payment.SignatureHeader: payment.Sign(orphan, testSecret)})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unmatched", decode[map[string]string](t, rec)["status"])

	junk := []byte(`{"event":{}}`)
	rec = e.do(t, http.MethodPost, "/webhooks/coinbase", junk, map[string]string{payment.SignatureHeader: payment.Sign(junk, testSecret)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/checkout", checkoutBody("DT-ADM001", orders.PaymentVenmo), withSession())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/admin/orders", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/admin/orders", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	auth := map[string]string{"Authorization": "Bearer " + testToken}
	rec = e.do(t, http.MethodGet, "/api/admin/orders?status=pending", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]orders.Order](t, rec), 1)

	rec = e.do(t, http.MethodPost, "/api/admin/orders/DT-ADM001/confirm-venmo", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, orders.PaymentCompleted, decode[orders.Order](t, rec).PaymentStatus)

	rec = e.do(t, http.MethodPost, "/api/admin/orders/DT-ADM001/status", setStatusReq{Status: orders.StatusShipped}, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, orders.StatusShipped, decode[orders.Order](t, rec).Status)

	rec = e.do(t, http.MethodPost, "/api/admin/orders/DT-ADM001/status", setStatusReq{Status: orders.StatusCancelled}, auth)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/admin/orders/DT-ADM001/confirm-crypto", nil, auth)
	assert.Equal(t, http.StatusConflict, rec.Code, "venmo order")

	rec = e.do(t, http.MethodGet, "/api/admin/orders/DT-NOPE00", nil, auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContact(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/contact", contact.Form{Name: "Grace", Email: "grace@example.com", Message: "hi"}, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, e.pub.n)

	rec = e.do(t, http.MethodPost, "/api/contact", contact.Form{Name: "Grace"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorBody](t, rec).Fields, "email")
}
