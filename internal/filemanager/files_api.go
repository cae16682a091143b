package filemanager

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// AnthropicFilesAPIDownloader implements FilesAPIDownloader against the
// Claude Files API, grounded on the original bot's
// core/claude/files_api.py:download_from_files_api retry behaviour
// (exponential backoff with jitter). 5xx responses, transport errors and
// body read errors are retried; 404 and other non-2xx statuses are not.
//
// None of genesis's three provider clients (gemini, ollama, openailm) expose
// a Files API equivalent, so this talks to the Anthropic REST endpoint
// directly over net/http rather than through an SDK - no Anthropic Go client
// appears anywhere in the example pack to ground one on.
type AnthropicFilesAPIDownloader struct {
	apiKey     string
	httpClient *http.Client
	baseDelay  time.Duration
	maxDelay   time.Duration
	maxRetries int
}

// NewAnthropicFilesAPIDownloader builds a downloader. baseDelay/maxDelay/maxRetries
// mirror config.SystemConfig's BaseDelaySeconds/MaxDelaySeconds/MaxRetries.
func NewAnthropicFilesAPIDownloader(apiKey string, httpClient *http.Client, baseDelay, maxDelay time.Duration, maxRetries int) *AnthropicFilesAPIDownloader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &AnthropicFilesAPIDownloader{
		apiKey:     apiKey,
		httpClient: httpClient,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		maxRetries: maxRetries,
	}
}

// Download implements FilesAPIDownloader.
func (d *AnthropicFilesAPIDownloader) Download(ctx context.Context, claudeFileID string) ([]byte, error) {
	url := fmt.Sprintf("https://api.anthropic.com/v1/files/%s/content", claudeFileID)

	var lastErr error
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.retryDelay(attempt)):
			}
		}

		data, retryable, err := d.attempt(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("filemanager: files api download of %s failed after %d attempts: %w", claudeFileID, d.maxRetries, lastErr)
}

func (d *AnthropicFilesAPIDownloader) attempt(ctx context.Context, url string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("x-api-key", d.apiKey)
	req.Header.Set("anthropic-beta", "files-api-2025-04-14")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, fmt.Errorf("%w: claude file not found", ErrFileNotFound)
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("files api returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("files api returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}

// Upload implements normalize.Uploader against the same Files API
// Download talks to, grounded on the original's
// core/claude/files_api.py:upload_to_files_api (multipart POST, retry only
// on 5xx/connection errors, exponential backoff with jitter).
func (d *AnthropicFilesAPIDownloader) Upload(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(d.retryDelay(attempt)):
			}
		}

		fileID, retryable, err := d.uploadAttempt(ctx, data, filename, mimeType)
		if err == nil {
			return fileID, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", fmt.Errorf("filemanager: files api upload of %s failed after %d attempts: %w", filename, d.maxRetries, lastErr)
}

// IsTransientError implements normalize.Uploader.
func (d *AnthropicFilesAPIDownloader) IsTransientError(err error) bool {
	return err != nil
}

func (d *AnthropicFilesAPIDownloader) uploadAttempt(ctx context.Context, data []byte, filename, mimeType string) (string, bool, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if mimeType != "" {
		header.Set("Content-Type", mimeType)
	}
	part, err := w.CreatePart(header)
	if err != nil {
		return "", false, err
	}
	if _, err := part.Write(data); err != nil {
		return "", false, err
	}
	if err := w.Close(); err != nil {
		return "", false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/files", &body)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("x-api-key", d.apiKey)
	req.Header.Set("anthropic-beta", "files-api-2025-04-14")
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("files api returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("files api returned %d", resp.StatusCode)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false, err
	}
	return parsed.ID, false, nil
}

// retryDelay reproduces the original's exponential-backoff-with-jitter curve.
func (d *AnthropicFilesAPIDownloader) retryDelay(attempt int) time.Duration {
	delay := float64(d.baseDelay) * math.Pow(2, float64(attempt-1))
	if max := float64(d.maxDelay); delay > max {
		delay = max
	}
	jitter := delay * 0.25 * (2*rand.Float64() - 1)
	return time.Duration(delay + jitter)
}
