package store

import (
	"context"
	"time"
)

// OutboxStatus is where an outbox message is in its delivery lifecycle:
// queued, then sending once claimed, then sent.
type OutboxStatus string

const (
	OutboxStatusQueued   OutboxStatus = "queued"
	OutboxStatusSending  OutboxStatus = "sending"
	OutboxStatusSent     OutboxStatus = "sent"
	OutboxStatusCanceled OutboxStatus = "canceled"
)

// OutboxMessage is a pending bot-initiated message: a daily reminder or a form
// expiry notice. Replies to user messages never go through the outbox.
type OutboxMessage struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	Kind          string       `json:"kind"`
	Body          string       `json:"body"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at"`
	DedupeKey     string       `json:"dedupe_key"`
	LockedAt      *time.Time   `json:"locked_at"`
	LastError     string       `json:"last_error"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// OutboxRepo persists the outbox.
type OutboxRepo interface {
	// EnqueueOutboxMessage queues body for userID. A non-empty dedupeKey that is
	// already queued or sent returns the existing message's ID instead, which
	// keeps one reminder per user per day.
	EnqueueOutboxMessage(ctx context.Context, userID, kind, body, dedupeKey string) (string, error)

	// ClaimDueOutboxMessages moves up to limit due queued messages to sending.
	ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)

	MarkOutboxMessageSent(ctx context.Context, id string) error

	// FailOutboxMessage stores errMsg, bumps the attempt count and requeues the
	// message for nextAttemptAt.
	FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error

	// RequeueStaleSendingMessages returns to the queue every message claimed
	// before staleBefore and reports how many moved.
	RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error)
}
