package store

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultOutboxPoll       = 5 * time.Second
	defaultOutboxStaleAfter = 5 * time.Minute
	defaultOutboxBatch      = 10

	retryBase = 10 * time.Second
	retryCap  = time.Hour
)

// OutboxSendFunc delivers one outbox message. A non-nil error schedules a retry.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSenderOption configures an OutboxSender.
type OutboxSenderOption func(*OutboxSender)

// WithStaleAfter sets how long a claimed message may stay in sending before
// RecoverStaleMessages puts it back in the queue.
func WithStaleAfter(d time.Duration) OutboxSenderOption {
	return func(s *OutboxSender) { s.staleAfter = d }
}

// WithBatchSize limits how many messages one Poll claims.
func WithBatchSize(n int) OutboxSenderOption {
	return func(s *OutboxSender) {
		if n > 0 {
			s.batch = n
		}
	}
}

// OutboxSender drains the outbox: reminders and form expiry notices are
// written there first and delivered by this loop, so a crash between
// enqueue and send loses nothing.
type OutboxSender struct {
	repo       OutboxRepo
	send       OutboxSendFunc
	every      time.Duration
	staleAfter time.Duration
	batch      int
}

// NewOutboxSender returns a sender polling repo every poll interval.
func NewOutboxSender(repo OutboxRepo, send OutboxSendFunc, poll time.Duration, opts ...OutboxSenderOption) *OutboxSender {
	if poll <= 0 {
		poll = defaultOutboxPoll
	}
	s := &OutboxSender{
		repo:       repo,
		send:       send,
		every:      poll,
		staleAfter: defaultOutboxStaleAfter,
		batch:      defaultOutboxBatch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecoverStaleMessages requeues messages a previous process claimed but never
// finished. Call it once before Run.
func (s *OutboxSender) RecoverStaleMessages(ctx context.Context) error {
	n, err := s.repo.RequeueStaleSendingMessages(ctx, time.Now().Add(-s.staleAfter))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("Outbox requeued interrupted messages", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("Outbox sender running", "every", s.every, "batch", s.batch)
	t := time.NewTicker(s.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Outbox sender stopped")
			return
		case <-t.C:
			s.Poll(ctx)
		}
	}
}

// Poll claims one batch of due messages and tries each once.
func (s *OutboxSender) Poll(ctx context.Context) {
	now := time.Now()
	due, err := s.repo.ClaimDueOutboxMessages(ctx, now, s.batch)
	if err != nil {
		slog.Error("Outbox claim failed", "error", err)
		return
	}
	for _, msg := range due {
		s.deliver(ctx, msg, now)
	}
}

func (s *OutboxSender) deliver(ctx context.Context, msg OutboxMessage, now time.Time) {
	log := slog.With("outboxID", msg.ID, "userID", msg.UserID, "kind", msg.Kind)
	sendErr := s.send(ctx, msg)
	if sendErr == nil {
		if err := s.repo.MarkOutboxMessageSent(ctx, msg.ID); err != nil {
			log.Error("Outbox could not mark message sent", "error", err)
			return
		}
		log.Debug("Outbox message delivered")
		return
	}

	next := now.Add(retryDelay(msg.Attempts))
	log.Warn("Outbox delivery failed", "attempt", msg.Attempts+1, "retryAt", next, "error", sendErr)
	if err := s.repo.FailOutboxMessage(ctx, msg.ID, sendErr.Error(), next); err != nil {
		log.Error("Outbox could not record failure", "error", err)
	}
}

// retryDelay doubles from retryBase per previous attempt up to retryCap.
func retryDelay(attempts int) time.Duration {
	d := retryBase
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= retryCap {
			return retryCap
		}
	}
	return d
}
