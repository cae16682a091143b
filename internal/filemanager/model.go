// Package filemanager implements the C2 File Manager component: canonical
// retrieval of file bytes by id across three tiers (exec-cache,
// messaging-platform, LLM files API) with cache-aside, grounded on the
// original bot's core/file_manager.py and core/claude/files_api.py.
package filemanager

import (
	"errors"
	"strings"
)

// ErrFileNotFound is returned when no tier can resolve a file id.
var ErrFileNotFound = errors.New("filemanager: file not found")

// Source identifies which tier ultimately served a file.
type Source string

const (
	SourceExecCache Source = "exec_cache"
	SourceTelegram  Source = "telegram"
	SourceFilesAPI  Source = "files_api"
)

// Metadata describes a resolved file, mirroring the metadata dict returned by
// the original get_file_content().
type Metadata struct {
	Filename    string
	MimeType    string
	FileSize    int
	Source      Source
	ClaudeFileID string
	Context     string
	Preview     string
}

const (
	execPrefix = "exec_"
	filePrefix = "file_"
)

// classifyID reports which tier a file id's prefix routes to.
func classifyID(fileID string) (isExec, isClaudeFile bool) {
	return strings.HasPrefix(fileID, execPrefix), strings.HasPrefix(fileID, filePrefix)
}

// FileType mirrors the original UserFile.file_type enum.
type FileType string

const (
	FileTypeImage     FileType = "image"
	FileTypePDF       FileType = "pdf"
	FileTypeAudio     FileType = "audio"
	FileTypeVoice     FileType = "voice"
	FileTypeVideo     FileType = "video"
	FileTypeVideoNote FileType = "video_note"
	FileTypeDocument  FileType = "document"
	FileTypeGenerated FileType = "generated"
)

// UserFile is the metadata row a Message owns per uploaded or generated file.
type UserFile struct {
	Filename             string
	MimeType             string
	FileSize             int
	FileType             FileType
	ClaudeFileID         string
	TelegramFileID       string
	TelegramFileUniqueID string
}
