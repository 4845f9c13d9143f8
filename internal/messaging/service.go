// Package messaging provides the pluggable message transport used by the bot:
// a Whatsmeow-backed service for direct WhatsApp connections and a Twilio
// variant for the hosted API.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/rsautomocion/tallerbot/internal/models"
)

// Constants shared by the service implementations.
const (
	// DefaultChannelBufferSize defines the buffer size for message and delivery channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds non-blocking channel emits.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction. It supports
// sending messages and exposes channels for incoming messages and delivery
// events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Each transport applies its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Deliveries returns a channel of outbound delivery events.
	Deliveries() <-chan models.Delivery

	// Messages returns a channel of incoming user messages.
	Messages() <-chan models.Message
}

// canonicalizePhone strips formatting from a phone number and validates the
// remaining digits.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: too short")
	}
	return canonical, nil
}
