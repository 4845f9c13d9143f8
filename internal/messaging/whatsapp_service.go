package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rsautomocion/tallerbot/internal/models"
	"github.com/rsautomocion/tallerbot/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client     whatsapp.Sender
	waClient   *whatsapp.Client // full client, nil when a mock is injected
	messages   chan models.Message
	deliveries chan models.Delivery
	done       chan struct{}
	mu         sync.RWMutex
	stopped    bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:     client,
		messages:   make(chan models.Message, DefaultChannelBufferSize),
		deliveries: make(chan models.Delivery, DefaultChannelBufferSize),
		done:       make(chan struct{}),
	}

	// Only a full client can feed incoming events.
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient strips formatting from a phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	}
	return nil
}

// Stop stops background processing and closes the event channels.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.messages)
	close(s.deliveries)
	slog.Info("WhatsAppService stopped")
	return nil
}

// SendMessage sends a message and emits a delivery event.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		s.emitDelivery(models.Delivery{To: canonicalTo, Status: models.OutgoingStatusFailed, Time: time.Now().Unix()})
		return err
	}
	s.emitDelivery(models.Delivery{To: canonicalTo, Status: models.OutgoingStatusSent, Time: time.Now().Unix()})
	return nil
}

// Deliveries returns a channel of outbound delivery events.
func (s *WhatsAppService) Deliveries() <-chan models.Delivery {
	return s.deliveries
}

// Messages returns a channel of incoming user messages.
func (s *WhatsAppService) Messages() <-chan models.Message {
	return s.messages
}

// handleEvents registers the whatsmeow event handler and feeds text messages
// into the messages channel.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if v, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(v)
		}
	})

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage extracts the text of an incoming message. Non-text
// payloads (images, audio, stickers) are dropped.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	fromNumber := evt.Info.Sender.User
	if !strings.HasPrefix(fromNumber, "+") {
		fromNumber = "+" + fromNumber
	}

	msg := models.Message{
		From: fromNumber,
		Body: messageText,
		Time: evt.Info.Timestamp.Unix(),
	}

	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case s.messages <- msg:
		slog.Debug("WhatsAppService incoming message forwarded", "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService messages channel blocked, dropping message", "from", msg.From)
	}
}

func (s *WhatsAppService) emitDelivery(d models.Delivery) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}
	select {
	case s.deliveries <- d:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService deliveries channel blocked, dropping event", "to", d.To)
	}
}
