// Package twiliowhatsapp sends WhatsApp messages through the Twilio REST API.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// AddressPrefix marks a Twilio WhatsApp address.
const AddressPrefix = "whatsapp:"

var ErrMissingCredentials = errors.New("twilio account SID and auth token must be provided")

// Sender sends a text message to a phone number.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds Twilio credentials and the sending number.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option configures the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the account SID; TWILIO_ACCOUNT_SID is used otherwise.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the auth token; TWILIO_AUTH_TOKEN is used otherwise.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number; TWILIO_FROM_NUMBER is used otherwise.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST client.
type Client struct {
	rest      *twilio.RestClient
	fromWhats string
}

// NewClient builds a client from options with environment fallbacks.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "", "AuthToken_set", cfg.AuthToken != "", "FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("twilio sending number must be provided")
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{Username: cfg.AccountSID, Password: cfg.AuthToken})
	return &Client{rest: rest, fromWhats: Address(cfg.FromWhats)}, nil
}

// Address turns a phone number into a Twilio WhatsApp address.
func Address(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, AddressPrefix) {
		return phone
	}
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return AddressPrefix + phone
}

// PhoneFromAddress strips the WhatsApp prefix from a Twilio address.
func PhoneFromAddress(addr string) string {
	return strings.TrimPrefix(strings.TrimSpace(addr), AddressPrefix)
}

// SendMessage sends body to the phone number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(Address(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	msg, err := c.rest.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("send twilio message to %s: %w", to, err)
	}
	sid := ""
	if msg != nil && msg.Sid != nil {
		sid = *msg.Sid
	}
	slog.Debug("Twilio message sent", "to", to, "sid", sid)
	return nil
}

// SentMessage is one message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records messages instead of calling Twilio.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a copy of the captured messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
