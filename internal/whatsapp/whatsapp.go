// Package whatsapp wraps the Whatsmeow client used as TrackPipe's native WhatsApp transport.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/BTreeMap/TrackPipe/internal/store"
)

const (
	// DefaultSQLitePath is where the whatsmeow device database lives when no DSN is given.
	DefaultSQLitePath = "/var/lib/trackpipe/whatsmeow.db"
	// JIDSuffix is the server part of a regular user JID.
	JIDSuffix = types.DefaultUserServer
)

var (
	ErrNotConnected = errors.New("whatsapp client not connected")
	ErrEmptyMessage = errors.New("message body cannot be empty")
	ErrNoRecipient  = errors.New("recipient cannot be empty")
)

// Sender sends a plain text message to a phone number given as digits.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds the device database and login settings.
type Opts struct {
	DBDSN       string
	QRPath      string
	NumericCode bool
	LogLevel    string
}

// Option configures the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow device database DSN.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode prints the raw pairing code instead of rendering a QR code.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// WithLogLevel sets the whatsmeow log level (DEBUG, INFO, WARN, ERROR).
func WithLogLevel(level string) Option {
	return func(o *Opts) { o.LogLevel = level }
}

// Client is a connected whatsmeow session.
type Client struct {
	wa *whatsmeow.Client
}

// deviceDriver picks the database/sql driver for a whatsmeow DSN.
func deviceDriver(dsn string) string {
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres"
	}
	return "sqlite3"
}

// foreignKeysEnabled reports whether a SQLite DSN turns on foreign keys, which whatsmeow expects.
func foreignKeysEnabled(dsn string) bool {
	if deviceDriver(dsn) != "sqlite3" {
		return true
	}
	return strings.Contains(dsn, "foreign_keys")
}

// NewClient opens the device store, logs in if needed and connects.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := Opts{DBDSN: DefaultSQLitePath, LogLevel: "INFO"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = DefaultSQLitePath
	}

	driver := deviceDriver(cfg.DBDSN)
	if !foreignKeysEnabled(cfg.DBDSN) {
		slog.Warn("WhatsApp SQLite DSN has foreign keys disabled; add ?_foreign_keys=on",
			"dsn_example", "file:"+cfg.DBDSN+"?_foreign_keys=on")
	}
	slog.Debug("WhatsApp NewClient opening device store", "driver", driver, "qrPath", cfg.QRPath, "numericCode", cfg.NumericCode)

	container, err := sqlstore.New(ctx, driver, cfg.DBDSN, waLog.Stdout("Database", cfg.LogLevel, true))
	if err != nil {
		return nil, fmt.Errorf("open whatsapp device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load whatsapp device: %w", err)
	}

	c := &Client{wa: whatsmeow.NewClient(device, waLog.Stdout("Client", cfg.LogLevel, true))}
	if c.wa.Store.ID == nil {
		if err := c.login(ctx, cfg); err != nil {
			return nil, err
		}
	} else if err := c.wa.Connect(); err != nil {
		return nil, fmt.Errorf("connect to whatsapp: %w", err)
	}
	slog.Info("WhatsApp client connected")
	return c, nil
}

// login pairs a new device by printing the QR (or numeric) codes until the pairing ends.
func (c *Client) login(ctx context.Context, cfg Opts) error {
	slog.Info("WhatsApp login required, starting pairing")
	qrChan, err := c.wa.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp qr channel: %w", err)
	}
	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("connect to whatsapp for login: %w", err)
	}

	out := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("create qr file: %w", err)
		}
		defer f.Close()
		out = f
	}
	for evt := range qrChan {
		switch {
		case evt.Event == "code" && cfg.NumericCode:
			fmt.Fprintln(out, evt.Code)
		case evt.Event == "code":
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, out)
		default:
			slog.Info("WhatsApp login event", "event", evt.Event)
		}
	}
	return nil
}

// SendMessage sends body to the phone number given as digits.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c == nil || c.wa == nil || c.wa.Store == nil {
		return ErrNotConnected
	}
	if to == "" {
		return ErrNoRecipient
	}
	if body == "" {
		return ErrEmptyMessage
	}
	if _, err := c.wa.SendMessage(ctx, types.NewJID(to, JIDSuffix), &waE2E.Message{Conversation: &body}); err != nil {
		slog.Error("WhatsApp send failed", "to", to, "error", err)
		return fmt.Errorf("send whatsapp message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp message sent", "to", to, "bodyLength", len(body))
	return nil
}

// AddEventHandler subscribes to whatsmeow events.
func (c *Client) AddEventHandler(h func(evt any)) {
	c.wa.AddEventHandler(func(evt interface{}) { h(evt) })
}

// Disconnect closes the websocket.
func (c *Client) Disconnect() {
	if c != nil && c.wa != nil {
		c.wa.Disconnect()
	}
}

// PhoneFromJID renders a user JID as an E.164 number.
func PhoneFromJID(jid types.JID) string {
	user := jid.User
	if strings.HasPrefix(user, "+") {
		return user
	}
	return "+" + user
}

// SentMessage is one message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records messages instead of sending them.
type MockClient struct {
	mu   sync.Mutex
	Sent []SentMessage
	Err  error
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
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a copy of the captured messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}
