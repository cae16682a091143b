package filemanager

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExecCache is the Redis-backed exec-output tier: temp artifacts produced by
// the code-execution tool, keyed by "exec:meta:<id>" / "exec:file:<id>".
type ExecCache interface {
	GetExecMeta(ctx context.Context, tempID string) (map[string]string, bool)
	GetExecFile(ctx context.Context, tempID string) ([]byte, bool)
}

// UserFileRepository looks up UserFile rows by either handle.
type UserFileRepository interface {
	GetByClaudeFileID(ctx context.Context, claudeFileID string) (UserFile, bool, error)
	GetByTelegramFileID(ctx context.Context, telegramFileID string) (UserFile, bool, error)
}

// TelegramDownloader downloads file bytes given a platform file id.
type TelegramDownloader interface {
	Download(ctx context.Context, telegramFileID string) ([]byte, error)
}

// FilesAPIDownloader downloads file bytes from the LLM-side files API.
type FilesAPIDownloader interface {
	Download(ctx context.Context, claudeFileID string) ([]byte, error)
}

// ByteCache is the bounded, TTL'd bytes cache used when use_cache=true.
type ByteCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration)
}

const bytesCacheTTL = 5 * time.Minute

// Manager resolves a file id to its bytes and metadata across the three
// tiers named in spec §4.2, transparently cache-aside on ByteCache.
type Manager struct {
	execCache  ExecCache
	userFiles  UserFileRepository
	telegram   TelegramDownloader
	filesAPI   FilesAPIDownloader
	byteCache  ByteCache
}

// New builds a Manager. byteCache may be nil to disable the bytes cache tier.
func New(execCache ExecCache, userFiles UserFileRepository, telegram TelegramDownloader, filesAPI FilesAPIDownloader, byteCache ByteCache) *Manager {
	return &Manager{
		execCache: execCache,
		userFiles: userFiles,
		telegram:  telegram,
		filesAPI:  filesAPI,
		byteCache: byteCache,
	}
}

// Get resolves fileID to its content and metadata. useCache enables reading
// and populating the bytes-LRU cache tier for messaging-platform (Telegram)
// downloads only; files-API downloads are not cached, and exec-cache entries
// are already ephemeral and are never double-cached.
func (m *Manager) Get(ctx context.Context, fileID string, useCache bool) ([]byte, Metadata, error) {
	isExec, isClaudeFile := classifyID(fileID)

	switch {
	case isExec:
		return m.getFromExecCache(ctx, fileID)
	case isClaudeFile:
		return m.getFromClaudeFile(ctx, fileID, useCache)
	default:
		return m.getFromTelegramToken(ctx, fileID, useCache)
	}
}

func (m *Manager) getFromExecCache(ctx context.Context, fileID string) ([]byte, Metadata, error) {
	meta, ok := m.execCache.GetExecMeta(ctx, fileID)
	if !ok {
		return nil, Metadata{}, fmt.Errorf("%w: %s not found or expired", ErrFileNotFound, fileID)
	}
	content, ok := m.execCache.GetExecFile(ctx, fileID)
	if !ok {
		return nil, Metadata{}, fmt.Errorf("%w: %s content not found", ErrFileNotFound, fileID)
	}

	return content, Metadata{
		Filename: meta["filename"],
		MimeType: meta["mime_type"],
		FileSize: len(content),
		Source:   SourceExecCache,
		Context:  meta["context"],
		Preview:  meta["preview"],
	}, nil
}

func (m *Manager) getFromClaudeFile(ctx context.Context, fileID string, useCache bool) ([]byte, Metadata, error) {
	uf, found, err := m.userFiles.GetByClaudeFileID(ctx, fileID)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("filemanager: lookup claude file %s: %w", fileID, err)
	}
	if !found {
		return nil, Metadata{}, fmt.Errorf("%w: claude file %s has no UserFile record", ErrFileNotFound, fileID)
	}

	if uf.TelegramFileID != "" {
		content, source, err := m.downloadViaTelegram(ctx, uf.TelegramFileID, useCache)
		if err == nil {
			return content, metadataFromUserFile(uf, source), nil
		}
		slog.Warn("filemanager.telegram_fallback_failed", "claude_file_id", fileID, "error", err)
	}

	content, err := m.filesAPI.Download(ctx, fileID)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: files api download of %s failed: %v", ErrFileNotFound, fileID, err)
	}
	return content, metadataFromUserFile(uf, SourceFilesAPI), nil
}

func (m *Manager) getFromTelegramToken(ctx context.Context, fileID string, useCache bool) ([]byte, Metadata, error) {
	uf, found, _ := m.userFiles.GetByTelegramFileID(ctx, fileID)

	content, _, err := m.downloadViaTelegram(ctx, fileID, useCache)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: telegram download of %s failed: %v", ErrFileNotFound, fileID, err)
	}

	if found {
		return content, metadataFromUserFile(uf, SourceTelegram), nil
	}
	return content, Metadata{
		Filename: fileID,
		FileSize: len(content),
		Source:   SourceTelegram,
	}, nil
}

func (m *Manager) downloadViaTelegram(ctx context.Context, telegramFileID string, useCache bool) ([]byte, Source, error) {
	cacheKey := "tgfile:" + telegramFileID
	if useCache && m.byteCache != nil {
		if cached, ok := m.byteCache.Get(ctx, cacheKey); ok {
			return cached, SourceTelegram, nil
		}
	}

	content, err := m.telegram.Download(ctx, telegramFileID)
	if err != nil {
		return nil, "", err
	}

	if useCache && m.byteCache != nil {
		m.byteCache.Set(ctx, cacheKey, content, bytesCacheTTL)
	}
	return content, SourceTelegram, nil
}

func metadataFromUserFile(uf UserFile, source Source) Metadata {
	return Metadata{
		Filename:     uf.Filename,
		MimeType:     uf.MimeType,
		FileSize:     uf.FileSize,
		Source:       source,
		ClaudeFileID: uf.ClaudeFileID,
	}
}
