package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProcessedMessage is the output of the Normalizer: a message whose downloads,
// uploads and transcriptions have already completed, ready for batching.
type ProcessedMessage struct {
	ThreadID     int64
	ChatID       int64
	Text         string
	HasMedia     bool
	MediaGroupID string
	QueuedAt     time.Time
}

// BatchProcessor handles one accumulated batch of messages for a thread.
type BatchProcessor func(ctx context.Context, threadID int64, messages []ProcessedMessage) error

type threadBatch struct {
	messages   []ProcessedMessage
	processing bool
}

// PerThreadQueueConfig tunes the debounce/quiet-period/timeout knobs.
type PerThreadQueueConfig struct {
	GenericDebounce            time.Duration // e.g. 150ms
	PendingNormalizationWait   time.Duration // e.g. 2s, generic path
	MediaGroupQuietPeriod      time.Duration // e.g. 300ms
	MediaGroupMaxWait          time.Duration // e.g. 5s
	MediaGroupNormalizationWait time.Duration // e.g. 3s
}

// PerThreadQueue batches ProcessedMessages per thread before invoking a
// BatchProcessor, waiting briefly for sibling messages (split text, a caption
// arriving with its photo, or a full media group) to arrive together.
type PerThreadQueue struct {
	mu       sync.Mutex
	threads  map[int64]*threadBatch
	process  BatchProcessor
	cfg      PerThreadQueueConfig
	normTrk  *NormalizationTracker
	groupTrk *MediaGroupTracker
}

// NewPerThreadQueue builds a queue that dispatches batches via process.
func NewPerThreadQueue(process BatchProcessor, cfg PerThreadQueueConfig, normTrk *NormalizationTracker, groupTrk *MediaGroupTracker) *PerThreadQueue {
	return &PerThreadQueue{
		threads:  make(map[int64]*threadBatch),
		process:  process,
		cfg:      cfg,
		normTrk:  normTrk,
		groupTrk: groupTrk,
	}
}

func (q *PerThreadQueue) getOrCreate(threadID int64) *threadBatch {
	b, ok := q.threads[threadID]
	if !ok {
		b = &threadBatch{}
		q.threads[threadID] = b
	}
	return b
}

// Add enqueues msg for threadID. If the thread is idle, it waits for likely
// siblings (media group quiet period, or a short generic debounce plus any
// pending normalizations in the chat) before dispatching the batch. If the
// thread is currently processing, msg is simply accumulated for the next
// round.
func (q *PerThreadQueue) Add(ctx context.Context, threadID int64, msg ProcessedMessage) {
	q.mu.Lock()
	batch := q.getOrCreate(threadID)
	if batch.processing {
		batch.messages = append(batch.messages, msg)
		q.mu.Unlock()
		slog.Info("per_thread_queue.accumulated_during_processing", "thread_id", threadID, "batch_size", len(batch.messages))
		return
	}
	batch.messages = append(batch.messages, msg)
	q.mu.Unlock()

	slog.Info("per_thread_queue.processing", "thread_id", threadID, "has_media", msg.HasMedia, "media_group_id", msg.MediaGroupID)

	if msg.MediaGroupID != "" {
		q.groupTrk.WaitForComplete(ctx, msg.MediaGroupID, q.cfg.MediaGroupQuietPeriod, q.cfg.MediaGroupMaxWait)
		q.normTrk.WaitForChat(ctx, msg.ChatID, q.cfg.MediaGroupNormalizationWait)
	} else {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.cfg.GenericDebounce):
		}
		q.normTrk.WaitForChat(ctx, msg.ChatID, q.cfg.PendingNormalizationWait)
	}

	q.mu.Lock()
	if batch.processing {
		// Another goroutine started processing while we waited.
		q.mu.Unlock()
		slog.Debug("per_thread_queue.skip_processing_already_active", "thread_id", threadID)
		return
	}
	q.mu.Unlock()

	q.processBatch(ctx, threadID)
}

// processBatch atomically takes the accumulated messages, runs them through
// the BatchProcessor, and re-dispatches immediately if more messages
// accumulated while processing — mirroring the original's recursive
// _process_batch finally-block behavior.
func (q *PerThreadQueue) processBatch(ctx context.Context, threadID int64) {
	q.mu.Lock()
	batch, ok := q.threads[threadID]
	if !ok || batch.processing || len(batch.messages) == 0 {
		q.mu.Unlock()
		return
	}
	messages := batch.messages
	batch.messages = nil
	batch.processing = true
	q.mu.Unlock()

	start := time.Now()
	slog.Info("per_thread_queue.processing_start", "thread_id", threadID, "batch_size", len(messages))

	err := q.process(ctx, threadID, messages)
	if err != nil {
		slog.Error("per_thread_queue.processing_failed", "thread_id", threadID, "error", err)
		if retryErr := q.process(ctx, threadID, messages); retryErr != nil {
			slog.Error("per_thread_queue.retry_failed", "thread_id", threadID, "error", retryErr)
		} else {
			slog.Info("per_thread_queue.retry_success", "thread_id", threadID)
		}
	} else {
		slog.Info("per_thread_queue.processing_complete", "thread_id", threadID, "elapsed", time.Since(start))
	}

	q.mu.Lock()
	batch.processing = false
	hasMore := len(batch.messages) > 0
	q.mu.Unlock()

	if hasMore {
		q.processBatch(ctx, threadID)
	}
}

// Stats reports aggregate queue occupancy, mirroring get_stats().
type Stats struct {
	TotalThreads        int
	ProcessingThreads   int
	WaitingThreads      int
	TotalPendingMessages int
}

// Stats returns a snapshot of queue occupancy.
func (q *PerThreadQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	s.TotalThreads = len(q.threads)
	for _, b := range q.threads {
		if b.processing {
			s.ProcessingThreads++
		}
		if len(b.messages) > 0 {
			s.WaitingThreads++
		}
		s.TotalPendingMessages += len(b.messages)
	}
	return s
}
