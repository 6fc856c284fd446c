package httpx

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/logging"
	"github.com/darktidesresearch/storefront/internal/payment"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives Coinbase Commerce deliveries. The signature is
// checked against the raw body before anything is parsed.
type WebhookHandler struct {
	Secret  string
	Service *payment.WebhookService
	Log     *zap.Logger
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/coinbase", h.coinbase)
}

func (h *WebhookHandler) coinbase(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), h.Log)

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	sig := r.Header.Get(payment.SignatureHeader)
	if sig == "" || !payment.Verify(raw, sig, h.Secret) {
		log.Warn("webhook_signature_rejected", zap.Bool("signature_present", sig != ""))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	ev, err := payment.ParseEvent(raw)
	if err != nil {
		log.Warn("webhook_malformed", zap.Error(err))
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}
	res, err := h.Service.Handle(r.Context(), ev)
	if err != nil {
		// a 5xx makes the processor redeliver
		log.Error("webhook_failed", zap.String("event_id", ev.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(res.Outcome)})
}
