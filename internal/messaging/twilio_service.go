package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/BTreeMap/TrackPipe/internal/models"
	"github.com/BTreeMap/TrackPipe/internal/twiliowhatsapp"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements Service over the Twilio REST API. Inbound messages
// and status callbacks arrive through WebhookHandler.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	validator *twilioclient.RequestValidator
	publicURL string
	*eventChannels
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhook requests whose X-Twilio-Signature does
// not match authToken for the given public webhook URL.
func WithSignatureValidation(authToken, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		v := twilioclient.NewRequestValidator(authToken)
		s.validator = &v
		s.publicURL = publicURL
	}
}

// NewTwilioService wraps a Twilio sender.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{client: client, eventChannels: newEventChannels("TwilioService")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndCanonicalizeRecipient accepts "whatsapp:+..." addresses and plain numbers.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(twiliowhatsapp.PhoneFromAddress(recipient))
}

func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

func (s *TwilioService) Stop() error {
	s.close()
	slog.Info("TwilioService stopped")
	return nil
}

func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		return err
	}
	s.emitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

func (s *TwilioService) Receipts() <-chan models.Receipt { return s.receipts }

func (s *TwilioService) Responses() <-chan models.Response { return s.responses }

// WebhookHandler accepts inbound messages (From, Body, MessageSid) and delivery
// status callbacks (MessageStatus, To).
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("TwilioService webhook form parse failed", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if s.validator != nil && !s.signatureValid(r) {
		slog.Warn("TwilioService webhook signature mismatch", "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	from, body := r.PostForm.Get("From"), r.PostForm.Get("Body")
	if status := r.PostForm.Get("MessageStatus"); status != "" && body == "" {
		s.handleStatusCallback(r.PostForm.Get("To"), status)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if from == "" || body == "" {
		slog.Warn("TwilioService webhook missing fields", "from", from, "bodyLength", len(body))
		http.Error(w, "missing From or Body", http.StatusBadRequest)
		return
	}

	slog.Info("TwilioService inbound message", "from", from, "sid", r.PostForm.Get("MessageSid"))
	s.emitResponse(models.Response{
		ID:   r.PostForm.Get("MessageSid"),
		From: twiliowhatsapp.PhoneFromAddress(from),
		Body: body,
		Time: time.Now().Unix(),
	})
	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprint(w, emptyTwiML)
}

func (s *TwilioService) signatureValid(r *http.Request) bool {
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return s.validator.Validate(s.publicURL, params, r.Header.Get("X-Twilio-Signature"))
}

func (s *TwilioService) handleStatusCallback(to, status string) {
	var st models.MessageStatus
	switch status {
	case "delivered":
		st = models.MessageStatusDelivered
	case "read":
		st = models.MessageStatusRead
	case "failed", "undelivered":
		st = models.MessageStatusFailed
	default:
		return
	}
	s.emitReceipt(models.Receipt{To: twiliowhatsapp.PhoneFromAddress(to), Status: st, Time: time.Now().Unix()})
}
