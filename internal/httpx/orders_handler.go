package httpx

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/checkout"
	"github.com/darktidesresearch/storefront/internal/logging"
	"github.com/darktidesresearch/storefront/internal/orders"
)

// OrdersHandler places orders and serves the order status poller.
type OrdersHandler struct {
	Checkout *checkout.Service
	Log      *zap.Logger
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/api/checkout", h.checkout)
	r.Get("/api/orders/{orderNumber}/status", h.status)
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing shopping session")
		return
	}
	var req checkout.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	res := h.Checkout.Checkout(r.Context(), sess, req)
	writeJSON(w, checkoutStatus(res), res)
}

func checkoutStatus(res checkout.Result) int {
	switch res.Kind {
	case checkout.KindValidation:
		return http.StatusBadRequest
	case checkout.KindUnavailable:
		return http.StatusConflict
	case checkout.KindBackend:
		return http.StatusInternalServerError
	}
	if res.Duplicate {
		return http.StatusOK
	}
	return http.StatusCreated
}

func (h *OrdersHandler) status(w http.ResponseWriter, r *http.Request) {
	v, err := h.Checkout.OrderStatus(r.Context(), chi.URLParam(r, "orderNumber"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, v)
	case errors.Is(err, orders.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "Order not found")
	default:
		logging.FromContext(r.Context(), h.Log).Error("order_status_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, checkout.RetryMessage)
	}
}
