package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Uploader pushes raw bytes to the LLM-side files API, returning an opaque
// claude_file_id. Implementations retry transient errors internally or defer
// to uploadWithRetry below.
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename, mimeType string) (claudeFileID string, err error)
	IsTransientError(err error) bool
}

// Transcriber converts voice/video-note audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, mimeType string) (TranscriptInfo, error)
}

// MimeDetector identifies a file's MIME type and extension from its bytes
// alone.
type MimeDetector func(data []byte) (mimeType string, ext string)

// RetryConfig mirrors the original files_api.py backoff constants.
type RetryConfig struct {
	MaxRetries       int
	BaseDelaySeconds float64
	MaxDelaySeconds  float64
}

// DefaultRetryConfig matches the original's MAX_RETRIES=3, BASE_DELAY=1.0,
// MAX_DELAY=10.0.
var DefaultRetryConfig = RetryConfig{MaxRetries: 3, BaseDelaySeconds: 1.0, MaxDelaySeconds: 10.0}

// Normalizer implements normalize(inbound_event) -> ProcessedMessage per
// spec §4.3, grounded on genesis's telegram_channel.go ingestion (download
// before dispatch) and the original's files_api.py upload-with-retry.
type Normalizer struct {
	uploader    Uploader
	transcriber Transcriber
	detectMime  MimeDetector
	retry       RetryConfig
}

// New builds a Normalizer. detectMime may be nil, in which case no content
// sniffing is done and each file's declared MIME type is used as-is.
func New(uploader Uploader, transcriber Transcriber, detectMime MimeDetector, retry RetryConfig) *Normalizer {
	return &Normalizer{uploader: uploader, transcriber: transcriber, detectMime: detectMime, retry: retry}
}

// Normalize converts ev into a ProcessedMessage. All steps that are
// independent (per-file upload, transcription) run concurrently; Normalize
// does not return until every one has finished, satisfying the invariant
// that a ProcessedMessage carries no pending I/O.
func (n *Normalizer) Normalize(ctx context.Context, ev InboundEvent) (ProcessedMessage, error) {
	text := ev.Text
	if text == "" {
		text = ev.Caption
	}

	pm := ProcessedMessage{
		ChatID:       ev.ChatID,
		UserID:       ev.UserID,
		MessageID:    ev.MessageID,
		ThreadID:     ev.ThreadID,
		Text:         text,
		MediaGroupID: ev.MediaGroupID,
		Reply:        ev.Reply,
		ReceivedAt:   ev.ReceivedAt,
	}

	switch ev.ContentType {
	case ContentVoice, ContentVideoNote:
		if err := n.transcribeInto(ctx, ev, &pm); err != nil {
			return ProcessedMessage{}, err
		}
	case ContentPhoto, ContentDocument, ContentAudio, ContentVideo:
		if err := n.uploadFilesInto(ctx, ev, &pm); err != nil {
			return ProcessedMessage{}, err
		}
	}

	pm.HasMedia = len(ev.Files) > 0
	pm.HasFiles = len(pm.Files) > 0
	pm.HasTranscript = pm.Transcript != nil

	return pm, nil
}

// uploadFilesInto uploads every file in ev.Files concurrently and collects
// the resulting UploadedFile descriptors in arrival order.
func (n *Normalizer) uploadFilesInto(ctx context.Context, ev InboundEvent, pm *ProcessedMessage) error {
	results := make([]UploadedFile, len(ev.Files))
	errs := make([]error, len(ev.Files))

	var wg sync.WaitGroup
	for i, f := range ev.Files {
		wg.Add(1)
		go func(i int, f RawFile) {
			defer wg.Done()
			mimeType := f.DeclaredMimeType
			if n.detectMime != nil {
				if detected, _ := n.detectMime(f.Data); detected != "" {
					mimeType = detected
				}
			}

			claudeFileID, err := n.uploadWithRetry(ctx, f.Data, f.Filename, mimeType)
			if err != nil {
				errs[i] = fmt.Errorf("normalize: upload %s: %w", f.Filename, err)
				return
			}
			results[i] = UploadedFile{
				ClaudeFileID: claudeFileID,
				Filename:     f.Filename,
				MimeType:     mimeType,
				FileSize:     len(f.Data),
				ContentType:  ev.ContentType,
			}
		}(i, f)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	pm.Files = results
	return nil
}

// transcribeInto runs speech-to-text on the (single) voice/video-note file.
// Per spec §4.3 step 4, the resulting TranscriptInfo is never pre-marked as
// charged; the tool loop decides when to bill for it.
func (n *Normalizer) transcribeInto(ctx context.Context, ev InboundEvent, pm *ProcessedMessage) error {
	if len(ev.Files) == 0 {
		return nil
	}
	f := ev.Files[0]
	mimeType := f.DeclaredMimeType
	if n.detectMime != nil {
		if detected, _ := n.detectMime(f.Data); detected != "" {
			mimeType = detected
		}
	}

	info, err := n.transcriber.Transcribe(ctx, f.Data, mimeType)
	if err != nil {
		return fmt.Errorf("normalize: transcribe %s: %w", f.Filename, err)
	}
	pm.Transcript = &info
	pm.TranscriptCharged = false
	return nil
}

// uploadWithRetry applies exponential backoff with ±25% jitter, matching the
// original files_api.py's _calculate_retry_delay.
func (n *Normalizer) uploadWithRetry(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < n.retry.MaxRetries; attempt++ {
		claudeFileID, err := n.uploader.Upload(ctx, data, filename, mimeType)
		if err == nil {
			return claudeFileID, nil
		}
		lastErr = err

		if !n.uploader.IsTransientError(err) || attempt == n.retry.MaxRetries-1 {
			slog.Info("normalize.upload_failed", "filename", filename, "mime_type", mimeType, "error", err, "attempt", attempt+1)
			return "", err
		}

		delay := n.retryDelay(attempt)
		slog.Info("normalize.upload_retry", "filename", filename, "error", err, "attempt", attempt+1, "max_retries", n.retry.MaxRetries, "delay_seconds", delay)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(delay * float64(time.Second))):
		}
	}
	return "", lastErr
}

func (n *Normalizer) retryDelay(attempt int) float64 {
	delay := n.retry.BaseDelaySeconds * pow2(attempt)
	if delay > n.retry.MaxDelaySeconds {
		delay = n.retry.MaxDelaySeconds
	}
	jitter := delay * 0.25 * (2*rand.Float64() - 1)
	return delay + jitter
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}
