package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/BTreeMap/TrackPipe/internal/models"
	"github.com/BTreeMap/TrackPipe/internal/store"
)

// DefaultErrorReply is sent when the action fails.
const DefaultErrorReply = "⚠️ Не удалось обработать сообщение. Попробуй ещё раз."

// ResponseAction handles one inbound message of a user and returns the reply.
// An empty reply sends nothing.
type ResponseAction func(ctx context.Context, userID, text string) (reply string, err error)

// ResponseHandlerOption configures a ResponseHandler.
type ResponseHandlerOption func(*ResponseHandler)

// WithDedup drops messages whose transport ID was already seen.
func WithDedup(repo store.DedupRepo) ResponseHandlerOption {
	return func(rh *ResponseHandler) { rh.dedup = repo }
}

// WithMessageLog records inbound messages and delivery receipts.
func WithMessageLog(log store.MessageLog) ResponseHandlerOption {
	return func(rh *ResponseHandler) { rh.log = log }
}

// WithErrorReply overrides DefaultErrorReply.
func WithErrorReply(text string) ResponseHandlerOption {
	return func(rh *ResponseHandler) { rh.errorReply = text }
}

// ResponseHandler routes inbound messages of a Service to a ResponseAction and
// sends the replies back through the same Service.
type ResponseHandler struct {
	svc        Service
	action     ResponseAction
	dedup      store.DedupRepo
	log        store.MessageLog
	errorReply string
	wg         sync.WaitGroup
}

// NewResponseHandler creates a handler that answers every message with action.
func NewResponseHandler(svc Service, action ResponseAction, opts ...ResponseHandlerOption) *ResponseHandler {
	rh := &ResponseHandler{svc: svc, action: action, errorReply: DefaultErrorReply}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

// ProcessResponse handles a single inbound message.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, resp models.Response) error {
	userID, err := rh.svc.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	if rh.dedup != nil && resp.ID != "" {
		fresh, err := rh.dedup.RecordInbound(ctx, resp.ID, userID)
		if err != nil {
			slog.Warn("ResponseHandler dedup check failed, processing anyway", "error", err, "messageID", resp.ID)
		} else if !fresh {
			slog.Info("ResponseHandler dropped duplicate message", "userID", userID, "messageID", resp.ID)
			return nil
		}
	}
	if rh.log != nil {
		if err := rh.log.AddResponse(resp); err != nil {
			slog.Warn("ResponseHandler could not record message", "error", err, "userID", userID)
		}
	}

	reply, actionErr := rh.action(ctx, userID, resp.Body)
	if actionErr != nil {
		slog.Error("ResponseHandler action failed", "error", actionErr, "userID", userID)
		reply = rh.errorReply
	}
	for _, part := range splitReply(reply, models.MaxMessageBodyLength) {
		if err := rh.svc.SendMessage(ctx, userID, part); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}

	if rh.dedup != nil && resp.ID != "" {
		if err := rh.dedup.MarkProcessed(ctx, resp.ID); err != nil {
			slog.Warn("ResponseHandler could not mark message processed", "error", err, "messageID", resp.ID)
		}
	}
	if actionErr != nil {
		return fmt.Errorf("handle message: %w", actionErr)
	}
	return nil
}

// Start consumes responses and receipts until ctx is done or the service closes its channels.
func (rh *ResponseHandler) Start(ctx context.Context) {
	rh.wg.Add(2)
	go func() {
		defer rh.wg.Done()
		for {
			select {
			case resp, ok := <-rh.svc.Responses():
				if !ok {
					return
				}
				if err := rh.ProcessResponse(ctx, resp); err != nil {
					slog.Error("ResponseHandler failed to process message", "error", err, "from", resp.From)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		defer rh.wg.Done()
		for {
			select {
			case r, ok := <-rh.svc.Receipts():
				if !ok {
					return
				}
				if rh.log != nil {
					if err := rh.log.AddReceipt(r); err != nil {
						slog.Warn("ResponseHandler could not record receipt", "error", err, "to", r.To)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	slog.Info("ResponseHandler started")
}

// Wait blocks until both consumer loops have exited.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}

// splitReply cuts text into parts of at most limit runes, breaking at line ends
// where it can. Long histories and reports exceed a single message.
func splitReply(text string, limit int) []string {
	if text == "" {
		return nil
	}
	var parts []string
	for utf8.RuneCountInString(text) > limit {
		cut := runeOffset(text, limit)
		if nl := strings.LastIndexByte(text[:cut], '\n'); nl > 0 {
			cut = nl + 1
		}
		parts = append(parts, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func runeOffset(s string, n int) int {
	i := 0
	for off := range s {
		if i == n {
			return off
		}
		i++
	}
	return len(s)
}
