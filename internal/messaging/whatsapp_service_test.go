package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/TrackPipe/internal/models"
	"github.com/BTreeMap/TrackPipe/internal/whatsapp"
)

func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
	var _ Service = (*TwilioService)(nil)
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+7 (900) 123-45-67", "79001234567", false},
		{"whatsapp:+15550001111", "15550001111", false},
		{"", "", true},
		{"12345", "", true},
		{"abc", "", true},
	}
	for _, tt := range tests {
		got, err := CanonicalizePhone(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidRecipient) {
				t.Errorf("CanonicalizePhone(%q) expected ErrInvalidRecipient, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("CanonicalizePhone(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)

	if err := svc.SendMessage(context.Background(), "+7 900 123 45 67", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if msgs := mockClient.Messages(); len(msgs) != 1 || msgs[0].To != "79001234567" {
		t.Fatalf("unexpected sent messages: %+v", msgs)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "79001234567" || receipt.Status != models.MessageStatusSent {
			t.Errorf("unexpected receipt %+v", receipt)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_SendFailureEmitsNoReceipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	mockClient.Err = errors.New("socket closed")
	svc := NewWhatsAppService(mockClient)

	if err := svc.SendMessage(context.Background(), "79001234567", "hello"); err == nil {
		t.Fatal("expected error")
	}
	select {
	case r := <-svc.Receipts():
		t.Fatalf("unexpected receipt %+v", r)
	default:
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if _, ok := <-svc.Receipts(); ok {
		t.Error("expected receipts channel closed")
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("expected responses channel closed")
	}
	if err := svc.SendMessage(context.Background(), "79001234567", "late"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func textMessage(id, user, text string, fromMe, group bool) *events.Message {
	jid := types.NewJID(user, types.DefaultUserServer)
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: jid, Sender: jid, IsFromMe: fromMe, IsGroup: group},
			ID:            types.MessageID(id),
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: &text},
	}
}

func TestWhatsAppService_HandleIncomingMessage(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	svc.handleEvent(textMessage("M1", "79001234567", "/day", false, false))
	svc.handleEvent(textMessage("M2", "79001234567", "mine", true, false))
	svc.handleEvent(textMessage("M3", "79001234567", "group", false, true))
	svc.handleEvent(&events.Message{Message: &waE2E.Message{}})

	select {
	case resp := <-svc.Responses():
		if resp.ID != "M1" || resp.From != "+79001234567" || resp.Body != "/day" || resp.Time != 1700000000 {
			t.Errorf("unexpected response %+v", resp)
		}
	default:
		t.Fatal("expected a forwarded message")
	}
	select {
	case resp := <-svc.Responses():
		t.Fatalf("only the direct text message should be forwarded, got %+v", resp)
	default:
	}
}

func TestWhatsAppService_HandleReceipt(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	chat := types.NewJID("79001234567", types.DefaultUserServer)

	svc.handleEvent(&events.Receipt{MessageSource: types.MessageSource{Chat: chat}, Type: events.ReceiptTypeRead, Timestamp: time.Unix(10, 0)})
	svc.handleEvent(&events.Receipt{MessageSource: types.MessageSource{Chat: chat}, Type: events.ReceiptTypeReadSelf})

	r := <-svc.Receipts()
	if r.To != "+79001234567" || r.Status != models.MessageStatusRead {
		t.Errorf("unexpected receipt %+v", r)
	}
	select {
	case extra := <-svc.Receipts():
		t.Fatalf("self read receipts should be ignored, got %+v", extra)
	default:
	}
}
