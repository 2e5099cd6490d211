// Package reminder sends each user an optional daily nudge to fill in the day log.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/TrackPipe/internal/models"
	"github.com/BTreeMap/TrackPipe/internal/recovery"
	"github.com/BTreeMap/TrackPipe/internal/scheduler"
	"github.com/BTreeMap/TrackPipe/internal/store"
)

// Kind tags reminder messages in the outbox.
const Kind = "reminder"

// DefaultText is the reminder body.
const DefaultText = "⏰ Напоминание: заполни дневник за сегодня командой /day"

// ErrInvalidTime is returned for reminder times not in HH:MM form.
var ErrInvalidTime = errors.New("time must be HH:MM")

// Store is the persistence the service needs.
type Store interface {
	store.ReminderRepo
	store.OutboxRepo
}

// Opts configures a Service.
type Opts struct {
	Now      func() time.Time
	Location *time.Location
	Text     string
}

// Option configures a Service.
type Option func(*Opts)

// WithClock overrides the time source used for dedupe keys.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithLocation sets the zone used to pick the reminder's calendar day.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithText overrides the reminder body.
func WithText(text string) Option {
	return func(o *Opts) { o.Text = text }
}

// Service registers one cron job per user and queues reminders in the outbox
// when they fire; the outbox sender delivers them.
type Service struct {
	st    Store
	sched *scheduler.Scheduler
	now   func() time.Time
	loc   *time.Location
	text  string
}

// NewService creates a reminder service.
func NewService(st Store, sched *scheduler.Scheduler, opts ...Option) *Service {
	cfg := Opts{Now: time.Now, Location: time.Local, Text: DefaultText}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service{st: st, sched: sched, now: cfg.Now, loc: cfg.Location, text: cfg.Text}
}

// ParseTime validates an HH:MM reminder time and returns it normalized.
func ParseTime(s string) (string, int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return t.Format("15:04"), t.Hour(), t.Minute(), nil
}

func jobKey(userID string) string {
	return Kind + ":" + userID
}

// Set stores the user's reminder time and (re)schedules it.
func (s *Service) Set(ctx context.Context, userID, hhmm string) (string, error) {
	norm, _, _, err := ParseTime(hhmm)
	if err != nil {
		return "", err
	}
	r := models.Reminder{UserID: userID, Time: norm, CreatedAt: s.now()}
	if err := r.Validate(); err != nil {
		return "", err
	}
	if err := s.schedule(r); err != nil {
		return "", err
	}
	if err := s.st.SetReminder(ctx, r); err != nil {
		s.sched.Remove(jobKey(userID))
		return "", fmt.Errorf("save reminder: %w", err)
	}
	slog.Info("Reminder set", "userID", userID, "time", norm)
	return norm, nil
}

// Disable removes the user's reminder and reports whether one existed.
func (s *Service) Disable(ctx context.Context, userID string) (bool, error) {
	removed := s.sched.Remove(jobKey(userID))
	deleted, err := s.st.DeleteReminder(ctx, userID)
	if err != nil {
		return removed, fmt.Errorf("delete reminder: %w", err)
	}
	slog.Info("Reminder disabled", "userID", userID, "existed", deleted || removed)
	return deleted || removed, nil
}

// Get returns the user's reminder or nil.
func (s *Service) Get(ctx context.Context, userID string) (*models.Reminder, error) {
	return s.st.GetReminder(ctx, userID)
}

func (s *Service) schedule(r models.Reminder) error {
	_, h, m, err := ParseTime(r.Time)
	if err != nil {
		return err
	}
	expr, err := scheduler.DailyAt(h, m)
	if err != nil {
		return err
	}
	userID := r.UserID
	return s.sched.Schedule(jobKey(userID), expr, func() { s.Fire(context.Background(), userID) })
}

// Fire queues today's reminder for the user. Firing twice on one day queues it once.
func (s *Service) Fire(ctx context.Context, userID string) {
	date := s.now().In(s.loc).Format(models.DateLayout)
	key := fmt.Sprintf("%s:%s:%s", Kind, userID, date)
	id, err := s.st.EnqueueOutboxMessage(ctx, userID, Kind, s.text, key)
	if err != nil {
		slog.Error("Reminder enqueue failed", "userID", userID, "error", err)
		return
	}
	slog.Debug("Reminder queued", "userID", userID, "outboxID", id, "dedupeKey", key)
}

// RecoverState re-registers every stored reminder after a restart.
func (s *Service) RecoverState(ctx context.Context, registry *recovery.RecoveryRegistry) error {
	reminders, err := s.st.ListReminders(ctx)
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}
	failed := 0
	for _, r := range reminders {
		if err := s.schedule(r); err != nil {
			slog.Error("Reminder recovery failed", "userID", r.UserID, "time", r.Time, "error", err)
			failed++
		}
	}
	slog.Info("Reminders recovered", "count", len(reminders)-failed, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d reminders could not be rescheduled", failed)
	}
	return nil
}
