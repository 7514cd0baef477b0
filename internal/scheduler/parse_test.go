package scheduler

import (
	"testing"
	"time"
)

func TestParseScheduleRelative(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"in 10 minutes", 10 * time.Minute},
		{"in 1 minute", time.Minute},
		{"IN 5 SECONDS", 5 * time.Second},
		{"in 2 hours", 2 * time.Hour},
		{"in 3 days", 72 * time.Hour},
		{"  in 1 second  ", time.Second},
	}
	for _, tt := range tests {
		s, err := parseSchedule(tt.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.in, err)
		}
		if s.kind != kindRelative || s.after != tt.want {
			t.Fatalf("parse %q: want relative %v, got %+v", tt.in, tt.want, s)
		}
	}
}

func TestParseScheduleCron(t *testing.T) {
	for _, in := range []string{"*/5 * * * *", "0 9 * * 1-5", "30 14 1 * *"} {
		s, err := parseSchedule(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if s.kind != kindCron || s.expr != in {
			t.Fatalf("parse %q: got %+v", in, s)
		}
	}
}

func TestParseScheduleRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "in 0 minutes", "in ten minutes", "in 5 fortnights", "every day", "completely bogus"} {
		if _, err := parseSchedule(in); err == nil {
			t.Fatalf("parse %q: expected error", in)
		}
	}
}

func TestScheduleNextRelative(t *testing.T) {
	s, err := parseSchedule("in 10 minutes")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ref := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next, err := s.next(ref)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := ref.Add(10 * time.Minute); !next.Equal(want) {
		t.Fatalf("want %v, got %v", want, next)
	}
}

func TestScheduleNextCron(t *testing.T) {
	s, err := parseSchedule("*/15 * * * *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ref := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	next, err := s.next(ref)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("want %v, got %v", want, next)
	}
}
