// Package tools implements the 10-row tool surface exposed to the LLM
// (spec §6): analyze_image, analyze_pdf, transcribe_audio, execute_python,
// generate_image, deliver_file, preview_file, web_search, web_fetch and
// render_latex. Each tool implements api.Tool and also toolloop.PricedTool,
// whose IsPaid marks the tools with a non-zero cost so the executor's
// balance pre-check can see them before dispatch.
package tools

import (
	"context"
	"encoding/base64"
	"fmt"

	"genesis/internal/filemanager"
	"genesis/pkg/api"
)

// FileResolver is the subset of internal/filemanager.Manager tools need to
// turn a claude_file_id/file_id argument into bytes plus metadata.
type FileResolver interface {
	Get(ctx context.Context, fileID string, useCache bool) ([]byte, filemanager.Metadata, error)
}

// textResult builds a plain-text ToolResult, optionally annotated with a
// dollar cost via the "cost_usd" detail key applyDetails reads back out.
func textResult(text string, costUSD float64, extra map[string]any) *api.ToolResult {
	details := map[string]any{}
	for k, v := range extra {
		details[k] = v
	}
	if costUSD > 0 {
		details["cost_usd"] = costUSD
	}
	return &api.ToolResult{
		Content: []api.ContentBlock{{Type: "text", Text: text}},
		Details: details,
	}
}

func errResult(format string, args ...any) *api.ToolResult {
	return textResult("Error: "+fmt.Sprintf(format, args...), 0, nil)
}

// imageResult packages a generated/analyzed image as an inline base64
// content block plus an optional caption. It sets no "_file_contents"
// detail, so the executor does not treat the image as a delivered file.
func imageResult(caption string, data []byte, mimeType string, costUSD float64) *api.ToolResult {
	var blocks []api.ContentBlock
	if caption != "" {
		blocks = append(blocks, api.ContentBlock{Type: "text", Text: caption})
	}
	blocks = append(blocks, api.ContentBlock{
		Type:     "image",
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: nonEmpty(mimeType, "image/png"),
	})
	details := map[string]any{}
	if costUSD > 0 {
		details["cost_usd"] = costUSD
	}
	return &api.ToolResult{Content: blocks, Details: details}
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argFloat(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

func argBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}
