package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextRunAlignsToIntervalPlusOffset(t *testing.T) {
	s := New(Options{Interval: 24 * time.Hour, Offset: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2026, 8, 27, 13, 30, 0, 0, time.UTC)
	next := s.nextRun(now)

	want := time.Date(2026, 8, 28, 0, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next run: got %s, want %s", next, want)
	}
}

func TestNextRunBeforeOffsetFiresSameDay(t *testing.T) {
	s := New(Options{Interval: 24 * time.Hour, Offset: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2026, 8, 27, 0, 2, 0, 0, time.UTC)
	next := s.nextRun(now)

	want := time.Date(2026, 8, 27, 0, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next run: got %s, want %s", next, want)
	}
}

func TestWindowStartStripsOffset(t *testing.T) {
	s := New(Options{Interval: 24 * time.Hour, Offset: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())

	run := time.Date(2026, 8, 28, 0, 5, 0, 0, time.UTC)
	window := s.windowStart(run)

	want := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	if !window.Equal(want) {
		t.Fatalf("window: got %s, want %s", window, want)
	}
}

func TestUnalignedIntervalFromNow(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	now := time.Date(2026, 8, 27, 13, 30, 0, 0, time.UTC)
	if next := s.nextRun(now); !next.Equal(now.Add(time.Hour)) {
		t.Fatalf("unaligned next run: got %s", next)
	}
	if window := s.windowStart(now); !window.Equal(now) {
		t.Fatalf("unaligned window: got %s", window)
	}
}

func TestRunExecutesJobAndStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan time.Time, 1)
	job := func(_ context.Context, window time.Time) error {
		select {
		case ran <- window:
		default:
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, job) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("run should return context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("zero interval should panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
