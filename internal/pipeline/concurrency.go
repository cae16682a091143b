package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrConcurrencyTimeout is returned by ConcurrencyLimiter.Acquire when a
// caller's queue wait exceeds the configured timeout.
type ErrConcurrencyTimeout struct {
	UserID        int64
	QueuePosition int
	Waited        time.Duration
}

func (e *ErrConcurrencyTimeout) Error() string {
	return fmt.Sprintf("concurrency limit timeout for user %d: position %d, waited %s",
		e.UserID, e.QueuePosition, e.Waited)
}

type userConcurrencyState struct {
	sem            chan struct{}
	activeCount    int
	queueCount     int
	totalProcessed int
}

// ConcurrencyLimiter caps the number of concurrent LLM generations per user,
// queuing excess requests FIFO and reporting queue position so callers can
// inform the user ("you're #2 in your own queue").
type ConcurrencyLimiter struct {
	mu           sync.Mutex
	users        map[int64]*userConcurrencyState
	maxConcurrent int
	queueTimeout time.Duration
}

// NewConcurrencyLimiter builds a limiter with the given per-user concurrency
// cap and queue wait timeout.
func NewConcurrencyLimiter(maxConcurrent int, queueTimeout time.Duration) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{
		users:         make(map[int64]*userConcurrencyState),
		maxConcurrent: maxConcurrent,
		queueTimeout:  queueTimeout,
	}
}

func (l *ConcurrencyLimiter) getOrCreate(userID int64) *userConcurrencyState {
	st, ok := l.users[userID]
	if !ok {
		st = &userConcurrencyState{sem: make(chan struct{}, l.maxConcurrent)}
		l.users[userID] = st
	}
	return st
}

// Slot represents an acquired generation slot; call Release when done.
type Slot struct {
	limiter       *ConcurrencyLimiter
	userID        int64
	QueuePosition int
}

// Release returns the slot to the pool.
func (s *Slot) Release() {
	s.limiter.release(s.userID)
}

// Acquire blocks until a generation slot is available for userID or the
// queue timeout elapses, whichever comes first. threadID is used only for
// logging context.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context, userID, threadID int64) (*Slot, error) {
	waitStart := time.Now()

	l.mu.Lock()
	st := l.getOrCreate(userID)
	queuePosition := 0
	if st.activeCount >= l.maxConcurrent {
		st.queueCount++
		queuePosition = st.queueCount
		slog.Info("concurrency_limiter.queued", "user_id", userID, "thread_id", threadID, "queue_position", queuePosition)
	}
	l.mu.Unlock()

	acquireCtx, cancel := context.WithTimeout(ctx, l.queueTimeout)
	defer cancel()

	select {
	case st.sem <- struct{}{}:
		// acquired
	case <-acquireCtx.Done():
		l.mu.Lock()
		if st.queueCount > 0 {
			st.queueCount--
		}
		l.mu.Unlock()
		waited := time.Since(waitStart)
		slog.Warn("concurrency_limiter.timeout", "user_id", userID, "thread_id", threadID, "queue_position", queuePosition, "waited", waited)
		return nil, &ErrConcurrencyTimeout{UserID: userID, QueuePosition: queuePosition, Waited: waited}
	}

	l.mu.Lock()
	st.activeCount++
	if queuePosition > 0 && st.queueCount > 0 {
		st.queueCount--
	}
	l.mu.Unlock()

	slog.Info("concurrency_limiter.acquired", "user_id", userID, "thread_id", threadID, "queue_position", queuePosition, "waited", time.Since(waitStart))

	return &Slot{limiter: l, userID: userID, QueuePosition: queuePosition}, nil
}

func (l *ConcurrencyLimiter) release(userID int64) {
	l.mu.Lock()
	st, ok := l.users[userID]
	l.mu.Unlock()
	if !ok {
		return
	}

	<-st.sem

	l.mu.Lock()
	if st.activeCount > 0 {
		st.activeCount--
	}
	st.totalProcessed++
	l.mu.Unlock()
}

// GenerationTracker maps (chatID, userID, topicID) to the cancel function of
// the in-flight tool-loop generation for that key, so a new incoming message
// in the same conversation cancels any stale generation still streaming.
type GenerationTracker struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewGenerationTracker builds an empty tracker.
func NewGenerationTracker() *GenerationTracker {
	return &GenerationTracker{cancels: make(map[string]context.CancelFunc)}
}

func generationKey(chatID, userID, topicID int64) string {
	return fmt.Sprintf("%d:%d:%d", chatID, userID, topicID)
}

// Begin cancels any prior generation registered under the same key and
// registers cancel as the new one to cancel on the next Begin or Cancel.
func (g *GenerationTracker) Begin(chatID, userID, topicID int64, cancel context.CancelFunc) {
	key := generationKey(chatID, userID, topicID)

	g.mu.Lock()
	prior, had := g.cancels[key]
	g.cancels[key] = cancel
	g.mu.Unlock()

	if had {
		slog.Info("generation_tracker.cancel_stale", "key", key)
		prior()
	}
}

// End clears the registered cancel function if it still matches cancel
// (i.e. a newer generation hasn't already replaced it).
func (g *GenerationTracker) End(chatID, userID, topicID int64, cancel context.CancelFunc) {
	key := generationKey(chatID, userID, topicID)

	g.mu.Lock()
	defer g.mu.Unlock()
	current, ok := g.cancels[key]
	if !ok {
		return
	}
	if fmt.Sprintf("%p", current) == fmt.Sprintf("%p", cancel) {
		delete(g.cancels, key)
	}
}

// Cancel cancels and clears the generation registered for the given key, if
// any. Returns true if a generation was cancelled.
func (g *GenerationTracker) Cancel(chatID, userID, topicID int64) bool {
	key := generationKey(chatID, userID, topicID)

	g.mu.Lock()
	cancel, ok := g.cancels[key]
	delete(g.cancels, key)
	g.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}
