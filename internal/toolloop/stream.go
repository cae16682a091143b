package toolloop

import (
	"encoding/base64"

	"github.com/shopspring/decimal"

	"genesis/pkg/api"
	"genesis/pkg/llm"
)

// collectChunks drains chunkCh into one assistant Message, mirroring
// AgentEngine.CollectChunks but without the throttled-draft signaling (that
// belongs to internal/streaming, wired by the caller via a separate hook).
func collectChunks(chunkCh <-chan llm.StreamChunk) (llm.Message, string, error) {
	msg := llm.Message{Role: "assistant", Content: []llm.ContentBlock{}}
	finishReason := ""

	for chunk := range chunkCh {
		if chunk.RawError != nil {
			return msg, finishReason, chunk.RawError
		}
		msg.Content = append(msg.Content, chunk.ContentBlocks...)
		if len(chunk.ToolCalls) > 0 {
			msg.ToolCalls = append(msg.ToolCalls, chunk.ToolCalls...)
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
		if chunk.IsFinal {
			break
		}
	}

	return msg, finishReason, nil
}

// normalizeStopReason maps a provider's raw finish reason onto StopMaxToken
// (length, max_tokens) or StopEndTurn (stop, end_turn, empty, and anything
// unrecognized). StopCostCap is set by the executor itself, never here.
func normalizeStopReason(raw string) StopReason {
	switch raw {
	case llm.StopReasonStop, "end_turn", "":
		return StopEndTurn
	case llm.StopReasonLength, "max_tokens":
		return StopMaxToken
	default:
		return StopEndTurn
	}
}

// convertBlocks adapts api.ContentBlock (the tool-result shape) into
// llm.ContentBlock (the message shape), mirroring AgentEngine.ConvertToolResult.
func convertBlocks(blocks []api.ContentBlock) []llm.ContentBlock {
	out := make([]llm.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "image":
			out = append(out, llm.NewImageBlock(decodeOrEmpty(b.Data), nonEmptyOr(b.MimeType, "image/png")))
		default:
			out = append(out, llm.NewTextBlock(b.Text))
		}
	}
	if len(out) == 0 {
		out = append(out, llm.NewTextBlock("(No output)"))
	}
	return out
}

func nonEmptyOr(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func decodeOrEmpty(base64Data string) []byte {
	data, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		return nil
	}
	return data
}

// applyDetails lifts the conventional metadata keys from a tool's loosely
// typed Details map (spec §4.7.3 step 2) into ToolOutcome's named fields.
func applyDetails(o *ToolOutcome, details map[string]any) {
	if details == nil {
		return
	}
	if v, ok := details["_duration"].(float64); ok {
		o.DurationSeconds = v
	}
	if v, ok := details["_model_id"].(string); ok {
		o.ModelID = v
	}
	if v, ok := details["_input_tokens"].(float64); ok {
		o.InputTokens = int(v)
	}
	if v, ok := details["_output_tokens"].(float64); ok {
		o.OutputTokens = int(v)
	}
	if v, ok := details["_cache_read_tokens"].(float64); ok {
		o.CacheReadTokens = int(v)
	}
	if v, ok := details["_cache_creation_tokens"].(float64); ok {
		o.CacheCreationTokens = int(v)
	}
	if v, ok := details["_already_charged"].(bool); ok {
		o.AlreadyCharged = v
	}
	if v, ok := details["_force_turn_break"].(bool); ok {
		o.ForceTurnBreak = v
	}
	if v, ok := details["cost_usd"].(float64); ok {
		o.CostUSD = decimal.NewFromFloat(v)
	}
	if raw, ok := details["_file_contents"].([]DeliveredFile); ok {
		o.FileContents = raw
	}
}
