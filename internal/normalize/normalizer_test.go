package normalize

import (
	"context"
	"errors"
	"testing"
)

type stubUploader struct {
	calls     int
	failTimes int
	transient bool
	id        string
}

func (u *stubUploader) Upload(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	u.calls++
	if u.calls <= u.failTimes {
		return "", errors.New("transient upload error")
	}
	return u.id, nil
}

func (u *stubUploader) IsTransientError(err error) bool { return u.transient }

type stubTranscriber struct {
	info TranscriptInfo
	err  error
}

func (t *stubTranscriber) Transcribe(ctx context.Context, data []byte, mimeType string) (TranscriptInfo, error) {
	return t.info, t.err
}

func TestNormalizeTextMessage(t *testing.T) {
	n := New(&stubUploader{}, &stubTranscriber{}, nil, DefaultRetryConfig)

	pm, err := n.Normalize(context.Background(), InboundEvent{
		ChatID: 1, UserID: 2, MessageID: 3, ContentType: ContentText, Text: "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pm.Text != "hello" || pm.HasMedia || pm.HasFiles || pm.HasTranscript {
		t.Errorf("pm = %+v", pm)
	}
}

func TestNormalizePhotoUploadsFile(t *testing.T) {
	uploader := &stubUploader{id: "file_abc"}
	n := New(uploader, &stubTranscriber{}, func(data []byte) (string, string) { return "image/png", ".png" }, DefaultRetryConfig)

	pm, err := n.Normalize(context.Background(), InboundEvent{
		ChatID: 1, ContentType: ContentPhoto,
		Files: []RawFile{{Filename: "pic.png", Data: []byte("bytes")}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pm.HasMedia || !pm.HasFiles || len(pm.Files) != 1 || pm.Files[0].ClaudeFileID != "file_abc" {
		t.Errorf("pm = %+v", pm)
	}
}

func TestNormalizeRetriesTransientUploadError(t *testing.T) {
	uploader := &stubUploader{id: "file_xyz", failTimes: 1, transient: true}
	n := New(uploader, &stubTranscriber{}, nil, RetryConfig{MaxRetries: 3, BaseDelaySeconds: 0.001, MaxDelaySeconds: 0.01})

	pm, err := n.Normalize(context.Background(), InboundEvent{
		ContentType: ContentDocument,
		Files:       []RawFile{{Filename: "doc.pdf", Data: []byte("bytes")}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pm.Files[0].ClaudeFileID != "file_xyz" {
		t.Errorf("expected eventual success, got %+v", pm.Files)
	}
	if uploader.calls != 2 {
		t.Errorf("expected 2 upload attempts, got %d", uploader.calls)
	}
}

func TestNormalizeVoiceTranscribes(t *testing.T) {
	transcriber := &stubTranscriber{info: TranscriptInfo{Text: "hi there", DurationSeconds: 2.5, DetectedLanguage: "en", CostUSD: 0.001}}
	n := New(&stubUploader{}, transcriber, nil, DefaultRetryConfig)

	pm, err := n.Normalize(context.Background(), InboundEvent{
		ContentType: ContentVoice,
		Files:       []RawFile{{Filename: "voice.ogg", Data: []byte("audio")}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pm.HasTranscript || pm.Transcript.Text != "hi there" || pm.TranscriptCharged {
		t.Errorf("pm = %+v", pm)
	}
}
