package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/darktidesresearch/storefront/internal/orders"
)

const (
	ChargeCreated   = "charge:created"
	ChargePending   = "charge:pending"
	ChargeConfirmed = "charge:confirmed"
	ChargeResolved  = "charge:resolved"
	ChargeFailed    = "charge:failed"
	ChargeExpired   = "charge:expired"
	ChargeDelayed   = "charge:delayed"
)

var ErrMalformedEvent = errors.New("malformed webhook event")

// Event is the part of a Coinbase Commerce webhook delivery the storefront
// acts on. Raw keeps the full verified body.
type Event struct {
	ID            string
	Type          string
	ChargeCode    string
	OrderNumber   string
	Network       string
	TransactionID string
	Raw           json.RawMessage
}

type webhookBody struct {
	Event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Code     string            `json:"code"`
			Metadata map[string]string `json:"metadata"`
			Payments []struct {
				Network       string `json:"network"`
				TransactionID string `json:"transaction_id"`
			} `json:"payments"`
		} `json:"data"`
	} `json:"event"`
}

func ParseEvent(raw []byte) (Event, error) {
	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	ev := body.Event
	if ev.ID == "" || ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	out := Event{
		ID:          ev.ID,
		Type:        ev.Type,
		ChargeCode:  ev.Data.Code,
		OrderNumber: ev.Data.Metadata["order_number"],
		Raw:         json.RawMessage(raw),
	}
	if n := len(ev.Data.Payments); n > 0 {
		last := ev.Data.Payments[n-1]
		out.Network = last.Network
		out.TransactionID = last.TransactionID
	}
	return out, nil
}

// TargetStatus maps an event type onto the crypto payment status it moves
// the order to. ok is false for types that carry no transition.
func TargetStatus(eventType string) (orders.PaymentStatus, bool) {
	switch eventType {
	case ChargePending:
		return orders.PaymentPendingConfirmation, true
	case ChargeConfirmed, ChargeResolved, ChargeDelayed:
		// delayed is a payment that landed after the charge expired
		return orders.PaymentConfirmed, true
	case ChargeFailed:
		return orders.PaymentFailed, true
	case ChargeExpired:
		return orders.PaymentExpired, true
	}
	return "", false
}

// paymentDetails is what gets stored on the order alongside the status.
func paymentDetails(ev Event) json.RawMessage {
	b, _ := json.Marshal(map[string]string{
		"event_id":       ev.ID,
		"event_type":     ev.Type,
		"charge_code":    ev.ChargeCode,
		"network":        ev.Network,
		"transaction_id": ev.TransactionID,
	})
	return b
}
