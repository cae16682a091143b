// Package toolloop implements the C7 Tool Loop Executor (spec §4.7): the
// streaming tool-calling turn loop that drives one batch of ProcessedMessages
// through the LLM, dispatching tools in parallel, accounting their cost
// against the ledger, and enforcing iteration and cost-cap limits.
//
// Grounded on genesis's pkg/agent/engine.go ProcessLLMStream/CollectChunks/
// ResolveAndCommitToolCall state machine, generalized from one Telegram
// session to an arbitrary (userID, threadID) turn and extended with balance
// pre-checks, per-tool cost accounting, and a synthesized cost-cap stop
// reason the original engine never needed.
package toolloop

import (
	"context"

	"github.com/shopspring/decimal"

	"genesis/pkg/llm"
)

// StopReason mirrors the four termination verdicts named in spec §4.7.4; the
// last one is never emitted by any LLM provider, only synthesized by us.
type StopReason string

const (
	StopEndTurn  StopReason = "end_turn"
	StopToolUse  StopReason = "tool_use"
	StopMaxToken StopReason = "max_tokens"
	StopCostCap  StopReason = "cost_cap"
)

// DeliveredFile is a tool-generated artifact the executor pushed to the
// user's chat mid-stream (spec §4.7.3 step 3).
type DeliveredFile struct {
	Filename string
	MimeType string
	Data     []byte
}

// ToolOutcome is the normalized result of one dispatched tool call: the
// conventional metadata keys from spec §4.7.3 step 2, lifted out of the
// loosely-typed Details map into named fields.
type ToolOutcome struct {
	ToolCallID           string
	ToolName             string
	Content              []llm.ContentBlock
	Err                  error
	DurationSeconds      float64
	ModelID              string
	InputTokens          int
	OutputTokens         int
	CacheReadTokens      int
	CacheCreationTokens  int
	CostUSD              decimal.Decimal
	AlreadyCharged       bool
	ForceTurnBreak       bool
	FileContents         []DeliveredFile
}

// HasCost reports whether CostUSD should be charged.
func (o ToolOutcome) HasCost() bool {
	return o.CostUSD.IsPositive() && !o.AlreadyCharged
}

// ToolCallAudit is one write-behind audit row queued per spec §4.7.3 step 4:
// "if _model_id is present, queue a ToolCall audit row... via a write-behind
// cache that batches writes to the DB."
type ToolCallAudit struct {
	ToolName            string
	ModelID             string
	InputTokens         int
	OutputTokens        int
	CostUSD             decimal.Decimal
	DurationSeconds     float64
	Success             bool
}

// Request is one invocation of the executor: one batch coming off the
// per-thread queue.
type Request struct {
	UserID   int64
	ThreadID int64
	ChatID   int64
	TopicID  int64
	Messages []llm.Message // full history plus the new batch, request-assembled by the caller
	Tools    []llm.Tool
}

// Result is what the executor hands back after the loop ends (spec §4.7.5
// names this the commit step's input).
type Result struct {
	FinalMessage   llm.Message
	StopReason     StopReason
	Iterations     int
	TotalCostUSD   decimal.Decimal
	DeliveredFiles []DeliveredFile
	ToolAudits     []ToolCallAudit
}

// LLMStreamer is the subset of genesis's provider clients the executor
// needs. Its StreamChat shape is structurally identical to pkg/llm.LLMClient
// (tools passed as `any`, since gemini/ollama/openailm each marshal the tool
// schema differently) - kept as a narrow interface here so the executor can
// be tested against a fake without depending on pkg/llm's factories.
type LLMStreamer interface {
	StreamChat(ctx context.Context, messages []llm.Message, tools any) (<-chan llm.StreamChunk, error)
	IsTransientError(err error) bool
}
