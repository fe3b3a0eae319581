package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"15m", 15 * time.Minute, true},
		{"1h", time.Hour, true},
		{"4h", 4 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{" 1H ", time.Hour, true},
		{"", 0, false},
		{"m", 0, false},
		{"0m", 0, false},
		{"-5m", 0, false},
		{"15s", 0, false},
		{"abc", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseIntervalDuration(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestNextTimesAlignsToCandleClose(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), 15*time.Minute, 5*time.Second)

	now := time.Date(2026, 3, 10, 9, 7, 30, 0, time.UTC)
	nextClose, wakeAt, wait := s.nextTimes(now)

	assert.Equal(t, time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC), nextClose)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 15, 5, 0, time.UTC), wakeAt)
	assert.Equal(t, 7*time.Minute+35*time.Second, wait)
}

func TestNextTimesJustAfterClose(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), time.Hour, 5*time.Second)

	// One second past a close the schedule targets the next boundary.
	now := time.Date(2026, 3, 10, 10, 0, 1, 0, time.UTC)
	nextClose, wakeAt, _ := s.nextTimes(now)
	assert.Equal(t, time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC), nextClose)
	assert.Equal(t, time.Date(2026, 3, 10, 11, 0, 5, 0, time.UTC), wakeAt)
}

func TestStartRunImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewAlignedScheduler(ctx, time.Hour, 0)
	s.RunImmediately = true

	ran := make(chan struct{}, 1)
	go s.Start(func() {
		ran <- struct{}{}
		cancel()
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("immediate run did not fire")
	}
}

func TestStartRejectsBadInterval(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), 0, 0)
	done := make(chan struct{})
	go func() {
		s.Start(func() { t.Error("task must not run") })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return on invalid interval")
	}
}
