package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced      = "OrderPlaced"
	EventPaymentConfirmed = "PaymentConfirmed"
	EventContactSubmitted = "ContactSubmitted"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order number
	Payload       json.RawMessage `json:"payload"`
}

// Publisher is satisfied by the kafka producer.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafka.Header)
}

type OrderPlacedPayload struct {
	OrderNumber   string        `json:"order_number"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Customer      CustomerData  `json:"customer"`
	Items         []OrderItem   `json:"items"`
	Totals        Totals        `json:"totals"`
	VenmoHandle   string        `json:"venmo_handle,omitempty"`
}

type PaymentConfirmedPayload struct {
	OrderNumber   string          `json:"order_number"`
	ChargeCode    string          `json:"charge_code"`
	Customer      CustomerData    `json:"customer"`
	Total         decimal.Decimal `json:"total"`
	Network       string          `json:"network,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

type ContactSubmittedPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
}

// Emit wraps payload in a v1 envelope and hands it to the publisher.
func Emit(p Publisher, topic, producer, eventType, correlationID, traceID string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: correlationID,
		Payload:       body,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, err
	}
	p.Publish(topic, PartitionKey(correlationID), value,
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte("1")},
	)
	return env, nil
}
