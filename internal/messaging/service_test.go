package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rsautomocion/tallerbot/internal/models"
	"github.com/rsautomocion/tallerbot/internal/twiliowhatsapp"
	"github.com/rsautomocion/tallerbot/internal/whatsapp"
)

func TestCanonicalizePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+34 600 111 222", "34600111222", false},
		{"(34) 600-111-222", "34600111222", false},
		{"600111222", "600111222", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, c := range cases {
		got, err := canonicalizePhone(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("canonicalizePhone(%q) expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("canonicalizePhone(%q) failed: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("canonicalizePhone(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestWhatsAppServiceSendEmitsDelivery(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)

	if err := svc.SendMessage(context.Background(), "+34 600 111 222", "hola"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	sent := mock.Sent()
	if len(sent) != 1 || sent[0].To != "34600111222" {
		t.Errorf("sent = %+v, want canonicalized recipient", sent)
	}

	select {
	case d := <-svc.Deliveries():
		if d.To != "34600111222" || d.Status != models.OutgoingStatusSent {
			t.Errorf("delivery = %+v", d)
		}
	default:
		t.Fatal("no delivery event emitted")
	}
}

func TestWhatsAppServiceStoppedRejectsSend(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "34600111222", "hola"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	// Stop is idempotent
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestTwilioWebhookEmitsMessage(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+34600111222")
	form.Set("Body", "hola")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	select {
	case m := <-svc.Messages():
		if m.From != "whatsapp:+34600111222" || m.Body != "hola" {
			t.Errorf("message = %+v", m)
		}
	default:
		t.Fatal("no message emitted")
	}
}

func TestTwilioWebhookRejectsMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+34600111222")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
