// Package messaging connects chat transports to the TrackPipe bot.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer of the receipt and response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an event waits for a full channel.
	DefaultChannelTimeout = 1 * time.Second
	// minPhoneDigits rejects obviously truncated numbers.
	minPhoneDigits = 6
)

var (
	ErrServiceStopped   = errors.New("messaging service stopped")
	ErrInvalidRecipient = errors.New("invalid recipient")
)

var nonDigits = regexp.MustCompile(`\D`)

// Service defines a pluggable message transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient returns the canonical user ID for a recipient.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins background processing (event subscriptions, polling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channels.
	Stop() error

	// Receipts returns delivery status events.
	Receipts() <-chan models.Receipt

	// Responses returns inbound user messages.
	Responses() <-chan models.Response
}

// CanonicalizePhone reduces a phone number or transport address to its digits.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRecipient)
	}
	canonical := nonDigits.ReplaceAllString(recipient, "")
	if len(canonical) < minPhoneDigits {
		return "", fmt.Errorf("%w: %q has fewer than %d digits", ErrInvalidRecipient, recipient, minPhoneDigits)
	}
	return canonical, nil
}

// eventChannels owns the receipt and response channels of a transport. Emits
// hold the read lock so close never races with a pending send.
type eventChannels struct {
	name      string
	mu        sync.RWMutex
	stopped   bool
	receipts  chan models.Receipt
	responses chan models.Response
}

func newEventChannels(name string) *eventChannels {
	return &eventChannels{
		name:      name,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

func (c *eventChannels) isStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

func (c *eventChannels) emitReceipt(r models.Receipt) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return
	}
	select {
	case c.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(c.name+" receipts channel blocked, dropping receipt", "to", r.To, "status", r.Status)
	}
}

func (c *eventChannels) emitResponse(r models.Response) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		slog.Warn(c.name+" dropping inbound message after stop", "from", r.From)
		return
	}
	select {
	case c.responses <- r:
		slog.Debug(c.name+" inbound message forwarded", "from", r.From, "id", r.ID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(c.name+" responses channel blocked, dropping message", "from", r.From, "timeout", DefaultChannelTimeout)
	}
}

func (c *eventChannels) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.receipts)
	close(c.responses)
}
