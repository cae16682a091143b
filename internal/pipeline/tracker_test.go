package pipeline

import (
	"context"
	"testing"
	"time"
)

func TestNormalizationTrackerWaitForChatCompletesWhenFinished(t *testing.T) {
	trk := NewNormalizationTracker()
	trk.Start(1, 100)

	done := make(chan bool, 1)
	go func() {
		done <- trk.WaitForChat(context.Background(), 1, time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	trk.Finish(1, 100)

	select {
	case ok := <-done:
		if !ok {
			t.Error("expected WaitForChat to report completion")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForChat did not return after Finish")
	}
}

func TestNormalizationTrackerWaitForChatTimesOut(t *testing.T) {
	trk := NewNormalizationTracker()
	trk.Start(1, 100)

	ok := trk.WaitForChat(context.Background(), 1, 20*time.Millisecond)
	if ok {
		t.Error("expected timeout (false) since Finish was never called")
	}
}

func TestNormalizationTrackerNoPendingReturnsImmediately(t *testing.T) {
	trk := NewNormalizationTracker()
	ok := trk.WaitForChat(context.Background(), 42, time.Millisecond)
	if !ok {
		t.Error("expected true when nothing is pending")
	}
}

func TestMediaGroupTrackerWaitsForQuietPeriod(t *testing.T) {
	trk := NewMediaGroupTracker(30 * time.Millisecond)
	trk.Register("group1")

	start := time.Now()
	ok := trk.WaitForComplete(context.Background(), "group1", 30*time.Millisecond, time.Second)
	elapsed := time.Since(start)

	if !ok {
		t.Error("expected group to settle normally")
	}
	if elapsed < 30*time.Millisecond {
		t.Errorf("expected to wait at least the quiet period, took %s", elapsed)
	}
}

func TestMediaGroupTrackerMaxWaitTimeout(t *testing.T) {
	trk := NewMediaGroupTracker(time.Hour)
	trk.Register("group2")

	ok := trk.WaitForComplete(context.Background(), "group2", time.Hour, 30*time.Millisecond)
	if ok {
		t.Error("expected max-wait timeout (false)")
	}
}

func TestMediaGroupTrackerUnknownGroupCompletesImmediately(t *testing.T) {
	trk := NewMediaGroupTracker(time.Second)
	ok := trk.WaitForComplete(context.Background(), "unknown", time.Second, time.Second)
	if !ok {
		t.Error("expected unknown group to be reported complete immediately")
	}
}
