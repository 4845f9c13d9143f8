package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rsautomocion/tallerbot/internal/models"
	"github.com/rsautomocion/tallerbot/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API.
// Incoming messages arrive over the webhook handler rather than a live
// connection.
type TwilioService struct {
	client     twiliowhatsapp.Sender
	messages   chan models.Message
	deliveries chan models.Delivery
	done       chan struct{}
	mu         sync.RWMutex
	stopped    bool
}

// NewTwilioService creates a new TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:     client,
		messages:   make(chan models.Message, DefaultChannelBufferSize),
		deliveries: make(chan models.Delivery, DefaultChannelBufferSize),
		done:       make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient strips formatting from a phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op for Twilio; inbound traffic arrives via the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.messages)
		close(s.deliveries)
	}()

	return nil
}

// SendMessage sends a message via Twilio and emits a delivery event.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMessage(ctx, "+"+canonicalTo, body); err != nil {
		s.emitDelivery(models.Delivery{To: canonicalTo, Status: models.OutgoingStatusFailed, Time: time.Now().Unix()})
		return err
	}

	s.emitDelivery(models.Delivery{To: canonicalTo, Status: models.OutgoingStatusSent, Time: time.Now().Unix()})
	return nil
}

// Deliveries returns the channel of outbound delivery events.
func (s *TwilioService) Deliveries() <-chan models.Delivery {
	return s.deliveries
}

// Messages returns the channel of incoming user messages.
func (s *TwilioService) Messages() <-chan models.Message {
	return s.messages
}

// WebhookHandler handles inbound Twilio webhook requests. It parses incoming
// messages and emits them into the Messages() channel.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	slog.Debug("Inbound WhatsApp message from Twilio", "from", from, "body_length", len(body))

	s.emitMessage(models.Message{
		From: from,
		Body: body,
		Time: time.Now().Unix(),
	})

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *TwilioService) emitDelivery(d models.Delivery) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}
	select {
	case s.deliveries <- d:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService deliveries channel blocked, dropping event", "to", d.To)
	}
}

func (s *TwilioService) emitMessage(m models.Message) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound message (service stopped)", "from", m.From)
		return
	}
	select {
	case s.messages <- m:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService messages channel blocked, dropping message", "from", m.From)
	}
}
