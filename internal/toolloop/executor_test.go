package toolloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"genesis/pkg/api"
	"genesis/pkg/llm"
)

type fakeStreamer struct {
	responses []llm.StreamChunk
	calls     int
}

func (f *fakeStreamer) StreamChat(ctx context.Context, messages []llm.Message, tools any) (<-chan llm.StreamChunk, error) {
	idx := f.calls
	f.calls++
	ch := make(chan llm.StreamChunk, 1)
	if idx < len(f.responses) {
		ch <- f.responses[idx]
	}
	close(ch)
	return ch, nil
}

func (f *fakeStreamer) IsTransientError(err error) bool { return false }

type fakeRegistry struct {
	tools map[string]api.Tool
}

func (r *fakeRegistry) Register(t api.Tool)          {}
func (r *fakeRegistry) Unregister(name string)        {}
func (r *fakeRegistry) Get(name string) (api.Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}
func (r *fakeRegistry) GetAll() []api.Tool { return nil }

type fakeTool struct {
	paid   bool
	result *api.ToolResult
	err    error
}

func (t *fakeTool) Name() string                       { return "test_tool" }
func (t *fakeTool) Description() string                { return "" }
func (t *fakeTool) Parameters() map[string]any          { return nil }
func (t *fakeTool) RequiredParameters() []string        { return nil }
func (t *fakeTool) IsPaid() bool                        { return t.paid }
func (t *fakeTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	return t.result, t.err
}

type fakeLedger struct {
	balance decimal.Decimal
	balErr  error
	charged []decimal.Decimal
}

func (l *fakeLedger) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return l.balance, l.balErr
}

func (l *fakeLedger) Charge(ctx context.Context, userID int64, amount decimal.Decimal, description string, relatedMessageID *int64) (decimal.Decimal, error) {
	l.charged = append(l.charged, amount)
	return decimal.Zero, nil
}

func toolCallArgs(t *testing.T, id, name string) llm.ToolCall {
	t.Helper()
	argsJSON, err := json.Marshal(map[string]any{})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return llm.ToolCall{ID: id, Name: name, Function: llm.FunctionCall{Name: name, Arguments: string(argsJSON)}}
}

func TestExecutorEndTurnNoTools(t *testing.T) {
	streamer := &fakeStreamer{responses: []llm.StreamChunk{
		{ContentBlocks: []llm.ContentBlock{llm.NewTextBlock("hello")}, IsFinal: true, FinishReason: "stop"},
	}}
	e := New(streamer, &fakeRegistry{tools: map[string]api.Tool{}}, &fakeLedger{balance: decimal.NewFromInt(10)}, Config{MaxIterations: 4}, nil)

	res, err := e.Run(context.Background(), Request{UserID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StopReason != StopEndTurn || res.Iterations != 1 {
		t.Errorf("res = %+v", res)
	}
}

func TestExecutorChargesPaidToolCost(t *testing.T) {
	toolCall := toolCallArgs(t, "tc1", "paid_tool")
	streamer := &fakeStreamer{responses: []llm.StreamChunk{
		{ToolCalls: []llm.ToolCall{toolCall}, IsFinal: true, FinishReason: "tool_use"},
		{ContentBlocks: []llm.ContentBlock{llm.NewTextBlock("done")}, IsFinal: true, FinishReason: "stop"},
	}}
	tool := &fakeTool{paid: true, result: &api.ToolResult{
		Content: []api.ContentBlock{{Type: "text", Text: "ok"}},
		Details: map[string]any{"cost_usd": 0.05, "_model_id": "gpt-x"},
	}}
	ledger := &fakeLedger{balance: decimal.NewFromInt(10)}
	e := New(streamer, &fakeRegistry{tools: map[string]api.Tool{"paid_tool": tool}}, ledger, Config{MaxIterations: 4}, nil)

	res, err := e.Run(context.Background(), Request{UserID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.charged) != 1 || !ledger.charged[0].Equal(decimal.NewFromFloat(0.05)) {
		t.Errorf("charged = %+v", ledger.charged)
	}
	if len(res.ToolAudits) != 1 || res.ToolAudits[0].ModelID != "gpt-x" {
		t.Errorf("audits = %+v", res.ToolAudits)
	}
	if res.StopReason != StopEndTurn {
		t.Errorf("stop reason = %v", res.StopReason)
	}
}

// TestExecutorRejectsPaidToolOnNegativeBalance mirrors scenario S2: a user
// with balance -0.08 calling a paid tool gets the synthetic
// {error, message, balance_usd, tool_name} result, not the tool's own output.
func TestExecutorRejectsPaidToolOnNegativeBalance(t *testing.T) {
	toolCall := toolCallArgs(t, "tc1", "generate_image")
	streamer := &fakeStreamer{responses: []llm.StreamChunk{
		{ToolCalls: []llm.ToolCall{toolCall}, IsFinal: true, FinishReason: "tool_use"},
		{ContentBlocks: []llm.ContentBlock{llm.NewTextBlock("done")}, IsFinal: true, FinishReason: "stop"},
	}}
	tool := &fakeTool{paid: true, result: &api.ToolResult{Content: []api.ContentBlock{{Type: "text", Text: "should not run"}}}}
	ledger := &fakeLedger{balance: decimal.NewFromFloat(-0.08)}
	e := New(streamer, &fakeRegistry{tools: map[string]api.Tool{"generate_image": tool}}, ledger, Config{MaxIterations: 4}, nil)

	res, err := e.Run(context.Background(), Request{UserID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.charged) != 0 {
		t.Errorf("expected no charge, got %+v", ledger.charged)
	}
	if res.StopReason != StopEndTurn {
		t.Errorf("stop reason = %v", res.StopReason)
	}
}

// TestExecutorAllowsPaidToolAtExactlyZeroBalance is the literal rule from
// spec §4.7.3 step 1 ("if the balance is strictly negative, reject"): a
// balance of exactly zero must still allow the call through.
func TestExecutorAllowsPaidToolAtExactlyZeroBalance(t *testing.T) {
	toolCall := toolCallArgs(t, "tc1", "paid_tool")
	streamer := &fakeStreamer{responses: []llm.StreamChunk{
		{ToolCalls: []llm.ToolCall{toolCall}, IsFinal: true, FinishReason: "tool_use"},
		{ContentBlocks: []llm.ContentBlock{llm.NewTextBlock("done")}, IsFinal: true, FinishReason: "stop"},
	}}
	tool := &fakeTool{paid: true, result: &api.ToolResult{
		Content: []api.ContentBlock{{Type: "text", Text: "ran"}},
		Details: map[string]any{"cost_usd": 0.05},
	}}
	ledger := &fakeLedger{balance: decimal.Zero}
	e := New(streamer, &fakeRegistry{tools: map[string]api.Tool{"paid_tool": tool}}, ledger, Config{MaxIterations: 4}, nil)

	res, err := e.Run(context.Background(), Request{UserID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.charged) != 1 {
		t.Errorf("expected the tool to run and be charged at zero balance, charged = %+v", ledger.charged)
	}
	if res.StopReason != StopEndTurn {
		t.Errorf("stop reason = %v", res.StopReason)
	}
}

func TestInsufficientBalanceResultShape(t *testing.T) {
	toolCall := toolCallArgs(t, "tc1", "generate_image")
	tool := &fakeTool{paid: true, result: &api.ToolResult{Content: []api.ContentBlock{{Type: "text", Text: "should not run"}}}}
	ledger := &fakeLedger{balance: decimal.NewFromFloat(-0.08)}
	e := New(&fakeStreamer{}, &fakeRegistry{tools: map[string]api.Tool{"generate_image": tool}}, ledger, Config{MaxIterations: 4}, nil)

	outcomes := e.dispatchTools(context.Background(), 1, []llm.ToolCall{toolCall})
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}

	var got insufficientBalanceResult
	if err := json.Unmarshal([]byte(outcomes[0].Content[0].Text), &got); err != nil {
		t.Fatalf("unmarshal synthetic result: %v", err)
	}
	if got.Error != "insufficient_balance" || got.BalanceUSD != "-0.08" || got.ToolName != "generate_image" {
		t.Errorf("got %+v", got)
	}
}

func TestExecutorStopsAtCostCap(t *testing.T) {
	toolCall := toolCallArgs(t, "tc1", "paid_tool")
	responses := []llm.StreamChunk{}
	for i := 0; i < 5; i++ {
		responses = append(responses, llm.StreamChunk{ToolCalls: []llm.ToolCall{toolCall}, IsFinal: true, FinishReason: "tool_use"})
	}
	streamer := &fakeStreamer{responses: responses}
	tool := &fakeTool{paid: true, result: &api.ToolResult{
		Content: []api.ContentBlock{{Type: "text", Text: "ok"}},
		Details: map[string]any{"cost_usd": 0.5},
	}}
	ledger := &fakeLedger{balance: decimal.NewFromInt(10)}
	e := New(streamer, &fakeRegistry{tools: map[string]api.Tool{"paid_tool": tool}}, ledger, Config{MaxIterations: 10, CostCapUSD: decimal.NewFromFloat(1.0)}, nil)

	res, err := e.Run(context.Background(), Request{UserID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StopReason != StopCostCap {
		t.Errorf("expected cost cap stop, got %v (iterations=%d)", res.StopReason, res.Iterations)
	}
	if res.Iterations != 2 {
		t.Errorf("expected 2 iterations to reach cap, got %d", res.Iterations)
	}
}

func TestExecutorUnknownToolReturnsError(t *testing.T) {
	toolCall := toolCallArgs(t, "tc1", "missing_tool")
	streamer := &fakeStreamer{responses: []llm.StreamChunk{
		{ToolCalls: []llm.ToolCall{toolCall}, IsFinal: true, FinishReason: "tool_use"},
		{ContentBlocks: []llm.ContentBlock{llm.NewTextBlock("done")}, IsFinal: true, FinishReason: "stop"},
	}}
	e := New(streamer, &fakeRegistry{tools: map[string]api.Tool{}}, &fakeLedger{balance: decimal.NewFromInt(10)}, Config{MaxIterations: 4}, nil)

	res, err := e.Run(context.Background(), Request{UserID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StopReason != StopEndTurn {
		t.Errorf("res = %+v", res)
	}
}
