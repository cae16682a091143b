package tools

import (
	"context"
	"fmt"

	"genesis/pkg/api"
)

// VisionClient is the narrow capability analyze_image/analyze_pdf/
// preview_file need from an LLM provider: a single non-streaming
// question-about-an-attachment call. Grounded on genesis's pkg/agent/engine.go
// request-assembly path, collapsed to one shot instead of a full turn loop.
type VisionClient interface {
	AnalyzeAttachment(ctx context.Context, data []byte, mimeType, question string) (answer string, tokensUsed int, err error)
}

const visionCostPerCall = 0.01

// AnalyzeImageTool implements the analyze_image tool (spec §6): answer a
// question about an already-uploaded image, identified by its LLM-side file
// id.
type AnalyzeImageTool struct {
	files  FileResolver
	vision VisionClient
}

func NewAnalyzeImageTool(files FileResolver, vision VisionClient) *AnalyzeImageTool {
	return &AnalyzeImageTool{files: files, vision: vision}
}

func (t *AnalyzeImageTool) Name() string { return "analyze_image" }

func (t *AnalyzeImageTool) Description() string {
	return "Answer a question about a previously uploaded image using the vision model."
}

func (t *AnalyzeImageTool) Parameters() map[string]any {
	return map[string]any{
		"claude_file_id": map[string]any{"type": "string", "description": "The file id returned when the image was uploaded"},
		"question":       map[string]any{"type": "string", "description": "What to ask about the image"},
	}
}

func (t *AnalyzeImageTool) RequiredParameters() []string { return []string{"claude_file_id", "question"} }

func (t *AnalyzeImageTool) IsPaid() bool { return true }

func (t *AnalyzeImageTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	fileID := argString(args, "claude_file_id")
	question := argString(args, "question")
	if fileID == "" || question == "" {
		return errResult("claude_file_id and question are required"), nil
	}

	data, meta, err := t.files.Get(ctx, fileID, true)
	if err != nil {
		return errResult("could not load %s: %v", fileID, err), nil
	}

	answer, tokens, err := t.vision.AnalyzeAttachment(ctx, data, nonEmpty(meta.MimeType, "image/jpeg"), question)
	if err != nil {
		return nil, fmt.Errorf("analyze_image: %w", err)
	}

	return textResult(answer, visionCostPerCall, map[string]any{"tokens_used": tokens}), nil
}

// AnalyzePDFTool implements the analyze_pdf tool (spec §6): same contract as
// analyze_image but over a PDF attachment.
type AnalyzePDFTool struct {
	files  FileResolver
	vision VisionClient
}

func NewAnalyzePDFTool(files FileResolver, vision VisionClient) *AnalyzePDFTool {
	return &AnalyzePDFTool{files: files, vision: vision}
}

func (t *AnalyzePDFTool) Name() string { return "analyze_pdf" }

func (t *AnalyzePDFTool) Description() string {
	return "Answer a question about a previously uploaded PDF document."
}

func (t *AnalyzePDFTool) Parameters() map[string]any {
	return map[string]any{
		"claude_file_id": map[string]any{"type": "string", "description": "The file id returned when the PDF was uploaded"},
		"question":       map[string]any{"type": "string", "description": "What to ask about the document"},
	}
}

func (t *AnalyzePDFTool) RequiredParameters() []string { return []string{"claude_file_id", "question"} }

func (t *AnalyzePDFTool) IsPaid() bool { return true }

func (t *AnalyzePDFTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	fileID := argString(args, "claude_file_id")
	question := argString(args, "question")
	if fileID == "" || question == "" {
		return errResult("claude_file_id and question are required"), nil
	}

	data, _, err := t.files.Get(ctx, fileID, true)
	if err != nil {
		return errResult("could not load %s: %v", fileID, err), nil
	}

	answer, tokens, err := t.vision.AnalyzeAttachment(ctx, data, "application/pdf", question)
	if err != nil {
		return nil, fmt.Errorf("analyze_pdf: %w", err)
	}

	return textResult(answer, visionCostPerCall, map[string]any{"tokens_used": tokens}), nil
}
