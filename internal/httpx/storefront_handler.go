package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/contact"
	"github.com/darktidesresearch/storefront/internal/discount"
	"github.com/darktidesresearch/storefront/internal/inventory"
	"github.com/darktidesresearch/storefront/internal/logging"
	"github.com/darktidesresearch/storefront/internal/orders"
)

type ProductLister interface {
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

// StorefrontHandler serves the catalog, cart holds, cart and discount checks
// and the contact form.
type StorefrontHandler struct {
	Products  ProductLister
	Inventory *inventory.Service
	Discounts *discount.Validator
	Contact   *contact.Service
	Log       *zap.Logger
}

type productView struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	SKU          string           `json:"sku"`
	Price        decimal.Decimal  `json:"price"`
	OldPrice     *decimal.Decimal `json:"old_price,omitempty"`
	InStock      bool             `json:"in_stock"`
	DisplayOrder int              `json:"display_order"`
}

type reserveReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type cartReq struct {
	Items []inventory.CartLine `json:"items"`
}

type discountReq struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

func (h *StorefrontHandler) Register(r chi.Router) {
	r.Get("/api/products", h.listProducts)
	r.Get("/api/products/{id}/availability", h.availability)
	r.Post("/api/reservations", h.reserve)
	r.Get("/api/reservations", h.listReservations)
	r.Delete("/api/reservations/{id}", h.release)
	r.Post("/api/cart/validate", h.validateCart)
	r.Post("/api/discounts/validate", h.validateDiscount)
	r.Post("/api/contact", h.contact)
}

func (h *StorefrontHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Products.ListProducts(r.Context())
	if err != nil {
		logging.FromContext(r.Context(), h.Log).Error("list_products_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Unable to load products, please try again")
		return
	}
	out := make([]productView, 0, len(ps))
	for _, p := range ps {
		out = append(out, productView{
			ID:           p.ID,
			Name:         p.Name,
			SKU:          p.SKU,
			Price:        p.Price,
			OldPrice:     p.OldPrice,
			InStock:      p.Available() > 0,
			DisplayOrder: p.DisplayOrder,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *StorefrontHandler) availability(w http.ResponseWriter, r *http.Request) {
	qty := 1
	if raw := r.URL.Query().Get("qty"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "qty must be a number")
			return
		}
		qty = n
	}
	writeJSON(w, http.StatusOK, h.Inventory.CheckAvailability(r.Context(), chi.URLParam(r, "id"), qty))
}

func (h *StorefrontHandler) reserve(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil || sess.Empty() {
		writeError(w, http.StatusBadRequest, "Missing shopping session")
		return
	}
	var req reserveReq
	if !decodeJSON(w, r, &req) {
		return
	}
	res := h.Inventory.Reserve(r.Context(), sess, req.ProductID, req.Quantity)
	switch {
	case res.OK:
		writeJSON(w, http.StatusCreated, res)
	case res.Reason == inventory.UnavailableMessage:
		writeJSON(w, http.StatusConflict, res)
	default:
		writeJSON(w, http.StatusBadRequest, res)
	}
}

func (h *StorefrontHandler) listReservations(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing shopping session")
		return
	}
	holds, err := h.Inventory.ListSession(r.Context(), sess)
	if err != nil {
		logging.FromContext(r.Context(), h.Log).Error("list_reservations_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Unable to load your cart holds")
		return
	}
	if holds == nil {
		holds = []orders.Reservation{}
	}
	writeJSON(w, http.StatusOK, holds)
}

func (h *StorefrontHandler) release(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil || sess.Empty() {
		writeError(w, http.StatusBadRequest, "Missing shopping session")
		return
	}
	err = h.Inventory.Release(r.Context(), sess, chi.URLParam(r, "id"))
	switch {
	case err == nil, errors.Is(err, orders.ErrReservationMissing):
		// already expired or released; the hold is gone either way
		w.WriteHeader(http.StatusNoContent)
	default:
		logging.FromContext(r.Context(), h.Log).Error("release_reservation_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Unable to update your cart, please try again")
	}
}

func (h *StorefrontHandler) validateCart(w http.ResponseWriter, r *http.Request) {
	sess, err := session(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing shopping session")
		return
	}
	var req cartReq
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.Inventory.ValidateCart(r.Context(), sess, req.Items))
}

func (h *StorefrontHandler) validateDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountReq
	if !decodeJSON(w, r, &req) {
		return
	}
	res := h.Discounts.Validate(r.Context(), req.Code, req.Subtotal)
	if !res.Valid && res.Message == discount.UnavailableMessage {
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *StorefrontHandler) contact(w http.ResponseWriter, r *http.Request) {
	var f contact.Form
	if !decodeJSON(w, r, &f) {
		return
	}
	fields, err := h.Contact.Submit(r.Context(), f)
	switch {
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Unable to send your message, please try again")
	case len(fields) > 0:
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "Please correct the highlighted fields", Fields: fields})
	default:
		writeJSON(w, http.StatusAccepted, map[string]bool{"success": true})
	}
}
