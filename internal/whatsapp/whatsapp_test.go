package whatsapp

import (
	"context"
	"errors"
	"testing"

	"github.com/rsautomocion/tallerbot/internal/models"
)

func TestMockClientRecordsMessages(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "34600111222", "hola"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	sent := m.Sent()
	if len(sent) != 1 {
		t.Fatalf("len(sent) = %d, want 1", len(sent))
	}
	if sent[0].To != "34600111222" || sent[0].Body != "hola" {
		t.Errorf("recorded message = %+v", sent[0])
	}
}

func TestMockClientValidation(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "", "hola"); !errors.Is(err, models.ErrEmptyRecipient) {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
	if err := m.SendMessage(context.Background(), "34600111222", ""); !errors.Is(err, models.ErrEmptyBody) {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
}
