package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConcurrencyLimiterAllowsUpToMax(t *testing.T) {
	l := NewConcurrencyLimiter(2, time.Second)

	s1, err := l.Acquire(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := l.Acquire(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s1.Release()
	defer s2.Release()
}

func TestConcurrencyLimiterQueuesAndTimesOut(t *testing.T) {
	l := NewConcurrencyLimiter(1, 20*time.Millisecond)

	slot, err := l.Acquire(context.Background(), 5, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer slot.Release()

	_, err = l.Acquire(context.Background(), 5, 0)
	if err == nil {
		t.Fatal("expected timeout error for a second concurrent request")
	}
	var timeoutErr *ErrConcurrencyTimeout
	if !errors.As(err, &timeoutErr) {
		t.Errorf("expected ErrConcurrencyTimeout, got %T: %v", err, err)
	}
}

func TestConcurrencyLimiterReleaseFreesSlot(t *testing.T) {
	l := NewConcurrencyLimiter(1, time.Second)

	slot, err := l.Acquire(context.Background(), 9, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	slot.Release()

	slot2, err := l.Acquire(context.Background(), 9, 0)
	if err != nil {
		t.Fatalf("expected slot to be free after release: %v", err)
	}
	slot2.Release()
}

func TestGenerationTrackerCancelsStaleOnBegin(t *testing.T) {
	g := NewGenerationTracker()
	cancelled := false
	_, cancel1 := context.WithCancel(context.Background())
	cancel1Wrapped := func() { cancelled = true; cancel1() }

	g.Begin(1, 2, 0, cancel1Wrapped)

	_, cancel2 := context.WithCancel(context.Background())
	g.Begin(1, 2, 0, cancel2)

	if !cancelled {
		t.Error("expected prior generation to be cancelled when a new one begins")
	}
}

func TestGenerationTrackerCancelReturnsFalseWhenNoneActive(t *testing.T) {
	g := NewGenerationTracker()
	if g.Cancel(1, 2, 3) {
		t.Error("expected Cancel to report false with nothing registered")
	}
}

func TestGenerationTrackerEndClearsOnlyIfCurrent(t *testing.T) {
	g := NewGenerationTracker()
	_, cancel1 := context.WithCancel(context.Background())
	g.Begin(1, 2, 0, cancel1)
	g.End(1, 2, 0, cancel1)

	if g.Cancel(1, 2, 0) {
		t.Error("expected no generation registered after End")
	}
}
