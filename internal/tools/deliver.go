package tools

import (
	"context"
	"strings"

	"genesis/internal/toolloop"
	"genesis/pkg/api"
)

// ExecFileReader is how DeliverFileTool reads back the bytes execute_python
// cached under a temp_id, mirroring filemanager.ExecCache but kept separate
// so deliver_file doesn't need the full Manager (only the exec tier).
type ExecFileReader interface {
	GetExecMeta(ctx context.Context, tempID string) (map[string]string, bool)
	GetExecFile(ctx context.Context, tempID string) ([]byte, bool)
}

// DeliverFileTool implements the deliver_file tool (spec §6): the explicit
// "send this cached exec_* artifact to the user" step. Grounded on the
// original system prompt's documented deliver_file workflow — delivery is
// never automatic, it is this one gated call.
type DeliverFileTool struct {
	execCache ExecFileReader
}

func NewDeliverFileTool(execCache ExecFileReader) *DeliverFileTool {
	return &DeliverFileTool{execCache: execCache}
}

func (t *DeliverFileTool) Name() string { return "deliver_file" }

func (t *DeliverFileTool) Description() string {
	return "Send a file previously generated by execute_python (identified by its exec_* temp_id) to the user."
}

func (t *DeliverFileTool) Parameters() map[string]any {
	return map[string]any{
		"temp_id": map[string]any{"type": "string", "description": "The exec_* temp id returned by execute_python's generated_files list"},
	}
}

func (t *DeliverFileTool) RequiredParameters() []string { return []string{"temp_id"} }

func (t *DeliverFileTool) IsPaid() bool { return false }

func (t *DeliverFileTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	tempID := argString(args, "temp_id")
	if tempID == "" {
		return errResult("temp_id is required"), nil
	}
	if !strings.HasPrefix(tempID, "exec_") {
		return errResult("temp_id must be an exec_* id from execute_python"), nil
	}

	meta, ok := t.execCache.GetExecMeta(ctx, tempID)
	if !ok {
		return errResult("temp_id %s not found or expired (cached for 30 minutes)", tempID), nil
	}
	content, ok := t.execCache.GetExecFile(ctx, tempID)
	if !ok {
		return errResult("temp_id %s has metadata but no cached content", tempID), nil
	}

	filename := nonEmpty(meta["filename"], tempID)
	return &api.ToolResult{
		Content: []api.ContentBlock{{Type: "text", Text: "Delivered " + filename}},
		Details: map[string]any{
			"_file_contents": []toolloop.DeliveredFile{{
				Filename: filename,
				MimeType: meta["mime_type"],
				Data:     content,
			}},
		},
	}, nil
}
