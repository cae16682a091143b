package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"genesis/internal/filemanager"
	"genesis/pkg/api"
)

const (
	defaultPreviewMaxRows  = 20
	defaultPreviewMaxChars = 2000
)

// PreviewFileTool implements the preview_file tool (spec §6): a
// mime-type-dispatched quick look at a file's content without the caller
// needing to pick analyze_image/analyze_pdf/transcribe_audio up front.
type PreviewFileTool struct {
	files  FileResolver
	vision VisionClient
}

func NewPreviewFileTool(files FileResolver, vision VisionClient) *PreviewFileTool {
	return &PreviewFileTool{files: files, vision: vision}
}

func (t *PreviewFileTool) Name() string { return "preview_file" }

func (t *PreviewFileTool) Description() string {
	return "Preview a previously uploaded file: CSV rows, text lines, an image/PDF description, or a hint for audio/video/binary content."
}

func (t *PreviewFileTool) Parameters() map[string]any {
	return map[string]any{
		"file_id":   map[string]any{"type": "string", "description": "The file id to preview"},
		"max_rows":  map[string]any{"type": "integer", "description": "Max CSV rows to include"},
		"max_chars": map[string]any{"type": "integer", "description": "Max text characters to include"},
		"question":  map[string]any{"type": "string", "description": "Optional question to ask when previewing an image or PDF"},
	}
}

func (t *PreviewFileTool) RequiredParameters() []string { return []string{"file_id"} }

func (t *PreviewFileTool) IsPaid() bool { return false }

func (t *PreviewFileTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	fileID := argString(args, "file_id")
	if fileID == "" {
		return errResult("file_id is required"), nil
	}
	maxRows := int(argFloat(args, "max_rows", defaultPreviewMaxRows))
	maxChars := int(argFloat(args, "max_chars", defaultPreviewMaxChars))
	question := nonEmpty(argString(args, "question"), "Briefly describe this file's contents.")

	data, meta, err := t.files.Get(ctx, fileID, true)
	if err != nil {
		return errResult("could not load %s: %v", fileID, err), nil
	}

	switch {
	case isCSV(meta):
		return t.previewCSV(data, maxRows), nil
	case isPlainText(meta):
		return t.previewText(data, maxChars), nil
	case strings.HasPrefix(meta.MimeType, "image/"):
		return t.previewVision(ctx, data, meta.MimeType, question)
	case meta.MimeType == "application/pdf":
		return t.previewVision(ctx, data, "application/pdf", question)
	case strings.HasPrefix(meta.MimeType, "audio/"):
		return textResult(fmt.Sprintf("Audio file %q (%d bytes). Use transcribe_audio for a transcript.", meta.Filename, len(data)), 0, nil), nil
	case strings.HasPrefix(meta.MimeType, "video/"):
		return textResult(fmt.Sprintf("Video file %q (%d bytes). No inline preview is available for video.", meta.Filename, len(data)), 0, nil), nil
	default:
		return textResult(fmt.Sprintf("Binary file %q, %s, %d bytes. No text preview available.", meta.Filename, nonEmpty(meta.MimeType, "unknown type"), len(data)), 0, nil), nil
	}
}

func isCSV(meta filemanager.Metadata) bool {
	return meta.MimeType == "text/csv" || strings.HasSuffix(strings.ToLower(meta.Filename), ".csv")
}

func isPlainText(meta filemanager.Metadata) bool {
	return strings.HasPrefix(meta.MimeType, "text/") && !isCSV(meta)
}

func (t *PreviewFileTool) previewCSV(data []byte, maxRows int) *api.ToolResult {
	r := csv.NewReader(bytes.NewReader(data))
	var rows []string
	for i := 0; i < maxRows; i++ {
		record, err := r.Read()
		if err != nil {
			break
		}
		rows = append(rows, strings.Join(record, ", "))
	}
	text := fmt.Sprintf("CSV preview (%d rows):\n%s", len(rows), strings.Join(rows, "\n"))
	return textResult(text, 0, map[string]any{"rows": rows})
}

func (t *PreviewFileTool) previewText(data []byte, maxChars int) *api.ToolResult {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var b strings.Builder
	for scanner.Scan() && b.Len() < maxChars {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	text := b.String()
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	return textResult(text, 0, nil)
}

func (t *PreviewFileTool) previewVision(ctx context.Context, data []byte, mimeType, question string) (*api.ToolResult, error) {
	if t.vision == nil {
		return textResult("No vision model configured to preview this file.", 0, nil), nil
	}
	answer, tokens, err := t.vision.AnalyzeAttachment(ctx, data, mimeType, question)
	if err != nil {
		return nil, fmt.Errorf("preview_file: %w", err)
	}
	return textResult(answer, 0, map[string]any{"tokens_used": tokens}), nil
}
