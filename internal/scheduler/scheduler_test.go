package scheduler

import (
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("not a cron", func() {}); err == nil {
		t.Error("Expected error for invalid expression")
	}
}

func TestDailyAt(t *testing.T) {
	expr, err := DailyAt(21, 5)
	if err != nil || expr != "5 21 * * *" {
		t.Errorf("DailyAt(21, 5) = %q, %v", expr, err)
	}
	if _, err := DailyAt(24, 0); err == nil {
		t.Error("Expected error for hour 24")
	}
}

func TestScheduleReplacesAndRemoves(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	s := NewScheduler(WithLocation(loc))
	defer s.Stop()

	if err := s.Schedule("reminder:u1", "0 9 * * *", func() {}); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := s.Schedule("reminder:u1", "30 21 * * *", func() {}); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}
	next, ok := s.Next("reminder:u1")
	if !ok {
		t.Fatal("Expected job registered")
	}
	if got := next.In(loc); got.Hour() != 21 || got.Minute() != 30 {
		t.Errorf("Expected replaced job at 21:30, got %v", got)
	}
	if !s.Remove("reminder:u1") {
		t.Error("Expected Remove to report an existing job")
	}
	if s.Has("reminder:u1") || s.Remove("reminder:u1") {
		t.Error("Job should be gone")
	}
}
