// Package pipeline implements the ingestion-side coordination components:
// NormalizationTracker, MediaGroupTracker, PerThreadQueue and the per-user
// ConcurrencyLimiter/GenerationTracker pair. These mirror the Python
// coroutine-based trackers the bot used, translated into goroutine-safe Go
// using mutex-guarded maps and closed channels as one-shot events.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// NormalizationTracker tracks messages currently being normalized per chat so
// that PerThreadQueue can wait for siblings (e.g. a photo still downloading)
// before dispatching a batch that already contains a sibling text message.
//
// Finish must be called AFTER the processed message has been enqueued, never
// after normalize() merely returns — otherwise a waiter can wake up before
// the message is actually visible in the queue.
type NormalizationTracker struct {
	mu      sync.Mutex
	pending map[int64]map[int64]struct{}
	done    map[int64]chan struct{}
}

// NewNormalizationTracker builds an empty tracker.
func NewNormalizationTracker() *NormalizationTracker {
	return &NormalizationTracker{
		pending: make(map[int64]map[int64]struct{}),
		done:    make(map[int64]chan struct{}),
	}
}

// Start marks messageID as being normalized within chatID.
func (t *NormalizationTracker) Start(chatID, messageID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.pending[chatID]
	if !ok {
		set = make(map[int64]struct{})
		t.pending[chatID] = set
	}
	set[messageID] = struct{}{}

	// A fresh, unclosed channel represents "not all done yet".
	if ch, exists := t.done[chatID]; !exists || isClosed(ch) {
		t.done[chatID] = make(chan struct{})
	}
}

// Finish marks messageID as done normalizing. Call only after the resulting
// ProcessedMessage has been handed to PerThreadQueue.Add.
func (t *NormalizationTracker) Finish(chatID, messageID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.pending[chatID]
	if !ok {
		return
	}
	delete(set, messageID)
	if len(set) == 0 {
		delete(t.pending, chatID)
		if ch, ok := t.done[chatID]; ok && !isClosed(ch) {
			close(ch)
		}
	}
}

// HasPending reports whether chatID currently has in-flight normalizations.
func (t *NormalizationTracker) HasPending(chatID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[chatID]) > 0
}

// PendingCount returns the number of in-flight normalizations for chatID.
func (t *NormalizationTracker) PendingCount(chatID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[chatID])
}

// WaitForChat blocks until all pending normalizations for chatID complete or
// timeout elapses. Returns true if it observed completion.
func (t *NormalizationTracker) WaitForChat(ctx context.Context, chatID int64, timeout time.Duration) bool {
	t.mu.Lock()
	ch, ok := t.done[chatID]
	pendingCount := len(t.pending[chatID])
	t.mu.Unlock()

	if !ok || pendingCount == 0 {
		return true
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.Info("normalization_tracker.waiting", "chat_id", chatID, "pending_count", pendingCount)
	select {
	case <-ch:
		slog.Info("normalization_tracker.wait_complete", "chat_id", chatID)
		return true
	case <-waitCtx.Done():
		slog.Warn("normalization_tracker.wait_timeout", "chat_id", chatID, "remaining", t.PendingCount(chatID))
		return false
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// MediaGroupTracker tracks Telegram media groups (albums) so the queue can
// wait until no new file has arrived for a quiet period before treating the
// group as complete.
type MediaGroupTracker struct {
	mu          sync.Mutex
	lastSeen    map[string]time.Time
	quietPeriod time.Duration
}

// NewMediaGroupTracker builds a tracker with the given default quiet period.
func NewMediaGroupTracker(quietPeriod time.Duration) *MediaGroupTracker {
	return &MediaGroupTracker{
		lastSeen:    make(map[string]time.Time),
		quietPeriod: quietPeriod,
	}
}

// Register records that a new message belonging to mediaGroupID just arrived,
// resetting its quiet-period clock.
func (t *MediaGroupTracker) Register(mediaGroupID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[mediaGroupID] = time.Now()
}

// WaitForComplete polls until no new message has arrived for quietPeriod (or
// the tracker's default if zero), or until maxWait elapses. Returns true if
// the group settled normally.
func (t *MediaGroupTracker) WaitForComplete(ctx context.Context, mediaGroupID string, quietPeriod, maxWait time.Duration) bool {
	if quietPeriod <= 0 {
		quietPeriod = t.quietPeriod
	}
	start := time.Now()
	const checkInterval = 50 * time.Millisecond

	for {
		t.mu.Lock()
		last, ok := t.lastSeen[mediaGroupID]
		t.mu.Unlock()

		if !ok {
			return true
		}

		since := time.Since(last)
		if since >= quietPeriod {
			t.mu.Lock()
			delete(t.lastSeen, mediaGroupID)
			t.mu.Unlock()
			slog.Info("media_group_tracker.complete", "media_group_id", mediaGroupID, "elapsed_since_last", since)
			return true
		}

		if time.Since(start) >= maxWait {
			t.mu.Lock()
			delete(t.lastSeen, mediaGroupID)
			t.mu.Unlock()
			slog.Warn("media_group_tracker.timeout", "media_group_id", mediaGroupID, "max_wait", maxWait)
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(checkInterval):
		}
	}
}
