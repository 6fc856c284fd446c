package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/backoffice"
	"github.com/darktidesresearch/storefront/internal/logging"
	"github.com/darktidesresearch/storefront/internal/orders"
	"github.com/darktidesresearch/storefront/internal/payment"
)

type AdminHandler struct {
	Token   string
	Service *backoffice.Service
	Log     *zap.Logger
}

type setStatusReq struct {
	Status orders.Status `json:"status"`
}

type confirmCryptoReq struct {
	Force bool `json:"force"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(requireBearer(h.Token))
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{orderNumber}", h.getOrder)
		r.Post("/orders/{orderNumber}/status", h.setStatus)
		r.Post("/orders/{orderNumber}/confirm-venmo", h.confirmVenmo)
		r.Post("/orders/{orderNumber}/confirm-crypto", h.confirmCrypto)
	})
}

func (h *AdminHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.Service.ListOrders(r.Context(), orders.Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *AdminHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.Order(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusReq
	if !decodeJSON(w, r, &req) {
		return
	}
	o, err := h.Service.SetStatus(r.Context(), chi.URLParam(r, "orderNumber"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) confirmVenmo(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.ConfirmVenmo(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) confirmCrypto(w http.ResponseWriter, r *http.Request) {
	var req confirmCryptoReq
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	o, err := h.Service.ConfirmCryptoOrder(r.Context(), chi.URLParam(r, "orderNumber"), req.Force)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, payment.ErrNoPaymentEvent),
		errors.Is(err, orders.ErrChargeConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logging.FromContext(r.Context(), h.Log).Error("admin_action_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
