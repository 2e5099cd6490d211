// Package scheduler provides scheduling logic for TrackPipe.
//
// Jobs (such as daily reminders) are scheduled using cron expressions and can be
// replaced or removed by key.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Opts configures a Scheduler.
type Opts struct {
	Location *time.Location
}

// Option configures a Scheduler.
type Option func(*Opts)

// WithLocation evaluates cron expressions in loc instead of the local zone.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	cfg := Opts{Location: time.Local}
	for _, opt := range opts {
		opt(&cfg)
	}
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(cfg.Location), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c, entries: make(map[string]cron.EntryID)}
}

// DailyAt returns the cron expression firing every day at hour:minute.
func DailyAt(hour, minute int) (string, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid time of day %02d:%02d", hour, minute)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Schedule registers task under key, replacing any job already registered under it.
func (s *Scheduler) Schedule(key, expr string, task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return err
	}
	if old, ok := s.entries[key]; ok {
		s.cron.Remove(old)
	}
	s.entries[key] = id
	slog.Debug("Scheduler.Schedule", "key", key, "expr", expr)
	return nil
}

// Remove unregisters the job under key and reports whether one existed.
func (s *Scheduler) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[key]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.entries, key)
	slog.Debug("Scheduler.Remove", "key", key)
	return true
}

// Has reports whether a job is registered under key.
func (s *Scheduler) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Next returns the next activation of the job under key.
func (s *Scheduler) Next(key string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
