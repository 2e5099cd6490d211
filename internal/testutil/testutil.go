// Package testutil provides shared fakes for TrackPipe tests: a settable clock,
// a recording message sender and JSON helpers for API responses.
package testutil

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

// Clock is a manually driven time source. Its Now method satisfies the
// func() time.Time clock options used across the codebase.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock stopped at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Sent is one message captured by RecordingSender.
type Sent struct {
	To   string
	Body string
}

// RecordingSender captures outbound messages. When Err is set every send fails with it.
type RecordingSender struct {
	mu   sync.Mutex
	sent []Sent
	Err  error
}

// SendMessage records the message unless Err is set.
func (r *RecordingSender) SendMessage(ctx context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, Sent{To: to, Body: body})
	return nil
}

// Messages returns a copy of everything sent so far.
func (r *RecordingSender) Messages() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Bodies returns the bodies sent to recipient, in order.
func (r *RecordingSender) Bodies(to string) []string {
	var out []string
	for _, m := range r.Messages() {
		if m.To == to {
			out = append(out, m.Body)
		}
	}
	return out
}

// APIResult is a decoded API envelope with the result left raw.
type APIResult struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// DecodeAPIResponse decodes rec's body and checks the envelope status.
func DecodeAPIResponse(t testing.TB, rec *httptest.ResponseRecorder, wantStatus string) APIResult {
	t.Helper()
	var out APIResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	require.Equal(t, wantStatus, out.Status, "body: %s", rec.Body.String())
	return out
}

// DecodeResult decodes the raw result of an envelope into v.
func DecodeResult[T any](t testing.TB, res APIResult) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(res.Result, &v))
	return v
}

// ErrorEnvelope is the body the API writes for message.
func ErrorEnvelope(t testing.TB, message string) string {
	t.Helper()
	data, err := json.Marshal(models.Error(message))
	require.NoError(t, err)
	return string(data)
}
