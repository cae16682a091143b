package filemanager

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeExecCache struct {
	meta map[string]map[string]string
	file map[string][]byte
}

func (f *fakeExecCache) GetExecMeta(ctx context.Context, tempID string) (map[string]string, bool) {
	m, ok := f.meta[tempID]
	return m, ok
}

func (f *fakeExecCache) GetExecFile(ctx context.Context, tempID string) ([]byte, bool) {
	b, ok := f.file[tempID]
	return b, ok
}

type fakeUserFiles struct {
	byClaudeID   map[string]UserFile
	byTelegramID map[string]UserFile
}

func (f *fakeUserFiles) GetByClaudeFileID(ctx context.Context, claudeFileID string) (UserFile, bool, error) {
	uf, ok := f.byClaudeID[claudeFileID]
	return uf, ok, nil
}

func (f *fakeUserFiles) GetByTelegramFileID(ctx context.Context, telegramFileID string) (UserFile, bool, error) {
	uf, ok := f.byTelegramID[telegramFileID]
	return uf, ok, nil
}

type fakeTelegram struct {
	content map[string][]byte
	err     error
}

func (f *fakeTelegram) Download(ctx context.Context, telegramFileID string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.content[telegramFileID], nil
}

type fakeFilesAPI struct {
	content map[string][]byte
}

func (f *fakeFilesAPI) Download(ctx context.Context, claudeFileID string) ([]byte, error) {
	b, ok := f.content[claudeFileID]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

type fakeByteCache struct {
	store map[string][]byte
}

func (f *fakeByteCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, ok := f.store[key]
	return b, ok
}

func (f *fakeByteCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) {
	f.store[key] = data
}

func TestGetFromExecCache(t *testing.T) {
	exec := &fakeExecCache{
		meta: map[string]map[string]string{"exec_abc": {"filename": "output.png", "mime_type": "image/png", "context": "Generated chart"}},
		file: map[string][]byte{"exec_abc": []byte("fake_image_bytes")},
	}
	m := New(exec, nil, nil, nil, nil)

	content, meta, err := m.Get(context.Background(), "exec_abc", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(content) != "fake_image_bytes" {
		t.Errorf("content = %q", content)
	}
	if meta.Source != SourceExecCache || meta.Filename != "output.png" {
		t.Errorf("meta = %+v", meta)
	}
}

func TestGetFromExecCacheMissingMeta(t *testing.T) {
	exec := &fakeExecCache{meta: map[string]map[string]string{}, file: map[string][]byte{}}
	m := New(exec, nil, nil, nil, nil)

	if _, _, err := m.Get(context.Background(), "exec_missing", false); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

func TestGetClaudeFilePrefersTelegram(t *testing.T) {
	userFiles := &fakeUserFiles{byClaudeID: map[string]UserFile{
		"file_abc": {Filename: "photo.jpg", MimeType: "image/jpeg", TelegramFileID: "tg123", ClaudeFileID: "file_abc"},
	}}
	tg := &fakeTelegram{content: map[string][]byte{"tg123": []byte("jpeg_bytes")}}
	m := New(nil, userFiles, tg, &fakeFilesAPI{}, nil)

	content, meta, err := m.Get(context.Background(), "file_abc", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(content) != "jpeg_bytes" || meta.Source != SourceTelegram {
		t.Errorf("content/meta = %q / %+v", content, meta)
	}
}

func TestGetClaudeFileFallsBackToFilesAPI(t *testing.T) {
	userFiles := &fakeUserFiles{byClaudeID: map[string]UserFile{
		"file_abc": {Filename: "doc.pdf", ClaudeFileID: "file_abc"},
	}}
	filesAPI := &fakeFilesAPI{content: map[string][]byte{"file_abc": []byte("pdf_bytes")}}
	m := New(nil, userFiles, &fakeTelegram{}, filesAPI, nil)

	content, meta, err := m.Get(context.Background(), "file_abc", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(content) != "pdf_bytes" || meta.Source != SourceFilesAPI {
		t.Errorf("content/meta = %q / %+v", content, meta)
	}
}

func TestGetBareTokenUsesByteCache(t *testing.T) {
	userFiles := &fakeUserFiles{byTelegramID: map[string]UserFile{}}
	tg := &fakeTelegram{content: map[string][]byte{"AgACAgIA": []byte("raw_bytes")}}
	bc := &fakeByteCache{store: map[string][]byte{}}
	m := New(nil, userFiles, tg, &fakeFilesAPI{}, bc)

	content, _, err := m.Get(context.Background(), "AgACAgIA", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(content) != "raw_bytes" {
		t.Errorf("content = %q", content)
	}
	if _, ok := bc.store["tgfile:AgACAgIA"]; !ok {
		t.Error("expected byte cache to be populated")
	}
}

func TestGetFromClaudeFileNotFound(t *testing.T) {
	userFiles := &fakeUserFiles{byClaudeID: map[string]UserFile{}}
	m := New(nil, userFiles, &fakeTelegram{}, &fakeFilesAPI{}, nil)

	if _, _, err := m.Get(context.Background(), "file_missing", false); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}
