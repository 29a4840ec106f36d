package delivery

import (
	"testing"
	"time"
)

func TestBackoffDoubling(t *testing.T) {
	s := NewScheduler(5*time.Second, time.Hour, 6)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 80 * time.Second},
		{6, 160 * time.Second},
	}
	for _, tt := range tests {
		if got := s.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffCap(t *testing.T) {
	s := NewScheduler(5*time.Second, time.Minute, 20)
	if got := s.Backoff(10); got != time.Minute {
		t.Errorf("Backoff(10) = %v, want cap %v", got, time.Minute)
	}
	// Deep attempt counts must not overflow into negative durations.
	if got := s.Backoff(80); got != time.Minute {
		t.Errorf("Backoff(80) = %v, want cap %v", got, time.Minute)
	}
}

func TestBackoffBelowOne(t *testing.T) {
	s := NewScheduler(5*time.Second, time.Hour, 6)
	if got := s.Backoff(0); got != 5*time.Second {
		t.Errorf("Backoff(0) = %v, want %v", got, 5*time.Second)
	}
}

func TestDelayJitterRange(t *testing.T) {
	s := NewScheduler(5*time.Second, time.Hour, 6)

	s.jitter = func() float64 { return 0 }
	if got := s.Delay(2); got != 10*time.Second {
		t.Errorf("Delay(2) with zero jitter = %v, want %v", got, 10*time.Second)
	}

	s.jitter = func() float64 { return 0.5 }
	want := 10*time.Second + 2500*time.Millisecond
	if got := s.Delay(2); got != want {
		t.Errorf("Delay(2) with half jitter = %v, want %v", got, want)
	}
}

func TestDelayJitterBoundedByBase(t *testing.T) {
	s := NewScheduler(5*time.Second, time.Hour, 6)
	for i := 0; i < 100; i++ {
		d := s.Delay(3)
		if d < 20*time.Second || d >= 25*time.Second {
			t.Fatalf("Delay(3) = %v, want in [20s, 25s)", d)
		}
	}
}

func TestNextAttemptAt(t *testing.T) {
	s := NewScheduler(5*time.Second, time.Hour, 6)
	s.jitter = func() float64 { return 0 }
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := s.NextAttemptAt(now, 1); !got.Equal(now.Add(5 * time.Second)) {
		t.Errorf("NextAttemptAt(now, 1) = %v, want %v", got, now.Add(5*time.Second))
	}
}

func TestExhausted(t *testing.T) {
	s := NewScheduler(5*time.Second, time.Hour, 6)
	if s.Exhausted(5) {
		t.Error("Exhausted(5) = true, want false")
	}
	if !s.Exhausted(6) {
		t.Error("Exhausted(6) = false, want true")
	}
	if !s.Exhausted(7) {
		t.Error("Exhausted(7) = false, want true")
	}
}
