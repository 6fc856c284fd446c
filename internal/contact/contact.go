package contact

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/logging"
	"github.com/darktidesresearch/storefront/internal/orders"
)

const (
	maxName    = 120
	maxSubject = 200
	maxMessage = 5000
)

var ErrPublish = errors.New("contact message could not be queued")

type Form struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
}

func (f Form) Normalize() Form {
	f.Name = strings.TrimSpace(f.Name)
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	f.Subject = strings.TrimSpace(f.Subject)
	f.Message = strings.TrimSpace(f.Message)
	return f
}

// Validate returns field -> message for every problem; empty means valid.
func (f Form) Validate() map[string]string {
	fields := map[string]string{}
	switch {
	case f.Name == "":
		fields["name"] = "Name is required"
	case utf8.RuneCountInString(f.Name) > maxName:
		fields["name"] = "Name is too long"
	}
	if !orders.ValidEmail(f.Email) {
		fields["email"] = "Please enter a valid email address"
	}
	if utf8.RuneCountInString(f.Subject) > maxSubject {
		fields["subject"] = "Subject is too long"
	}
	switch {
	case f.Message == "":
		fields["message"] = "Message is required"
	case utf8.RuneCountInString(f.Message) > maxMessage:
		fields["message"] = "Message is too long"
	}
	return fields
}

type Service struct {
	pub      orders.Publisher
	producer string
	log      *zap.Logger
}

func NewService(pub orders.Publisher, producer string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{pub: pub, producer: producer, log: log.Named("contact")}
}

// Submit queues the message for the notifier. The returned map is non-empty
// when the form is invalid.
func (s *Service) Submit(ctx context.Context, f Form) (map[string]string, error) {
	f = f.Normalize()
	if fields := f.Validate(); len(fields) > 0 {
		return fields, nil
	}
	env, err := orders.Emit(s.pub, orders.TopicContactSubmitted, s.producer, orders.EventContactSubmitted, "", "",
		orders.ContactSubmittedPayload{Name: f.Name, Email: f.Email, Subject: f.Subject, Message: f.Message})
	if err != nil {
		logging.FromContext(ctx, s.log).Error("emit_contact_failed", zap.Error(err))
		return nil, ErrPublish
	}
	logging.FromContext(ctx, s.log).Info("contact_submitted", zap.String("event_id", env.EventID))
	return nil, nil
}
