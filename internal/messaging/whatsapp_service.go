package messaging

import (
	"context"
	"log/slog"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/TrackPipe/internal/models"
	"github.com/BTreeMap/TrackPipe/internal/whatsapp"
)

// eventSource is implemented by whatsapp.Client; mocks usually don't.
type eventSource interface {
	AddEventHandler(h func(evt any))
}

// WhatsAppService implements Service on top of a whatsmeow session.
type WhatsAppService struct {
	client whatsapp.Sender
	*eventChannels
}

// NewWhatsAppService wraps a WhatsApp sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	return &WhatsAppService{client: client, eventChannels: newEventChannels("WhatsAppService")}
}

// ValidateAndCanonicalizeRecipient reduces the recipient to the digits of the phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start subscribes to whatsmeow events when the client supports them.
func (s *WhatsAppService) Start(ctx context.Context) error {
	src, ok := s.client.(eventSource)
	if !ok {
		slog.Debug("WhatsAppService client has no event source, inbound messages disabled")
		return nil
	}
	src.AddEventHandler(s.handleEvent)
	slog.Info("WhatsAppService subscribed to events")
	return nil
}

// Stop closes the event channels.
func (s *WhatsAppService) Stop() error {
	s.close()
	slog.Info("WhatsAppService stopped")
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonical)
		return err
	}
	s.emitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Receipts returns delivery status events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt { return s.receipts }

// Responses returns inbound text messages.
func (s *WhatsAppService) Responses() <-chan models.Response { return s.responses }

func (s *WhatsAppService) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		s.handleIncomingMessage(v)
	case *events.Receipt:
		s.handleReceipt(v)
	}
}

// handleIncomingMessage forwards direct text messages; groups, own messages and media are ignored.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = *evt.Message.ExtendedTextMessage.Text
	default:
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}
	s.emitResponse(models.Response{
		ID:   string(evt.Info.ID),
		From: whatsapp.PhoneFromJID(evt.Info.Sender),
		Body: text,
		Time: evt.Info.Timestamp.Unix(),
	})
}

func (s *WhatsAppService) handleReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	s.emitReceipt(models.Receipt{
		To:     whatsapp.PhoneFromJID(evt.MessageSource.Chat),
		Status: status,
		Time:   evt.Timestamp.Unix(),
	})
}
