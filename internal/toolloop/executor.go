package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"genesis/pkg/api"
	"genesis/pkg/llm"
)

// Ledger is the subset of internal/ledger.Ledger the executor needs,
// accepted as an interface so tests can substitute a fake.
type Ledger interface {
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Charge(ctx context.Context, userID int64, amount decimal.Decimal, description string, relatedMessageID *int64) (decimal.Decimal, error)
}

// insufficientBalanceResult is the synthetic tool result shape spec §4.7.3
// step 1 and scenario S2 require when a paid tool is rejected pre-execution.
type insufficientBalanceResult struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	BalanceUSD string `json:"balance_usd"`
	ToolName   string `json:"tool_name"`
}

// PricedTool is an api.Tool that additionally declares whether it costs
// money, gating the balance pre-check in spec §4.7.3 step 1.
type PricedTool interface {
	api.Tool
	IsPaid() bool
}

// Executor runs the streaming tool-calling loop described in spec §4.7.
type Executor struct {
	streamer      LLMStreamer
	registry      api.ToolRegistry
	ledger        Ledger
	maxIterations int
	costCapUSD    decimal.Decimal
	onFileDelivery func(DeliveredFile)
}

// Config bundles Executor's tunables (spec §6's MaxToolLoopIterations /
// CostCapUSDPerTurn keys).
type Config struct {
	MaxIterations int
	CostCapUSD    decimal.Decimal
}

// DefaultSubagentMaxIterations matches the original's subagent default of 8
// (spec §4.7.4): "max_iterations (default 8 for subagents, configurable for
// the main loop)".
const DefaultSubagentMaxIterations = 8

// New builds an Executor. onFileDelivery, if non-nil, is invoked once per
// batch of tool-delivered files, with the first file of the batch — precisely
// when the file-delivery rule in spec §4.7.3 step 3 requires the streaming
// draft to be committed before files are sent. The remaining files of the
// batch are not passed to it; every delivered file is returned in
// Result.DeliveredFiles. streaming.Session.HandleFileDelivery has this
// signature.
func New(streamer LLMStreamer, registry api.ToolRegistry, ledger Ledger, cfg Config, onFileDelivery func(DeliveredFile)) *Executor {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultSubagentMaxIterations
	}
	return &Executor{
		streamer:       streamer,
		registry:       registry,
		ledger:         ledger,
		maxIterations:  maxIter,
		costCapUSD:     cfg.CostCapUSD,
		onFileDelivery: onFileDelivery,
	}
}

// Run drives req through the tool loop until end_turn, max_iterations, or
// the cost cap is reached.
func (e *Executor) Run(ctx context.Context, req Request) (Result, error) {
	messages := append([]llm.Message(nil), req.Messages...)
	totalCost := decimal.Zero
	var delivered []DeliveredFile
	var audits []ToolCallAudit

	for iter := 0; iter < e.maxIterations; iter++ {
		chunkCh, err := e.streamer.StreamChat(ctx, messages, req.Tools)
		if err != nil {
			return Result{}, fmt.Errorf("toolloop: stream init failed: %w", err)
		}

		assistantMsg, finishReason, err := collectChunks(chunkCh)
		if err != nil {
			return Result{}, fmt.Errorf("toolloop: stream collection failed: %w", err)
		}

		if len(assistantMsg.ToolCalls) == 0 {
			return Result{
				FinalMessage:   assistantMsg,
				StopReason:     normalizeStopReason(finishReason),
				Iterations:     iter + 1,
				TotalCostUSD:   totalCost,
				DeliveredFiles: delivered,
				ToolAudits:     audits,
			}, nil
		}

		messages = append(messages, assistantMsg)

		outcomes := e.dispatchTools(ctx, req.UserID, assistantMsg.ToolCalls)

		forceBreak := false
		fileHookCalled := false
		for _, o := range outcomes {
			if o.HasCost() {
				desc := fmt.Sprintf("Tool usage: %s", o.ToolName)
				if _, chargeErr := e.ledger.Charge(ctx, req.UserID, o.CostUSD, desc, nil); chargeErr != nil {
					slog.Error("toolloop.charge_failed", "tool", o.ToolName, "user_id", req.UserID, "error", chargeErr)
				} else {
					totalCost = totalCost.Add(o.CostUSD)
				}
			}

			if o.ModelID != "" {
				audits = append(audits, ToolCallAudit{
					ToolName:        o.ToolName,
					ModelID:         o.ModelID,
					InputTokens:     o.InputTokens,
					OutputTokens:    o.OutputTokens,
					CostUSD:         o.CostUSD,
					DurationSeconds: o.DurationSeconds,
					Success:         o.Err == nil,
				})
			}

			for _, f := range o.FileContents {
				if !fileHookCalled && e.onFileDelivery != nil {
					e.onFileDelivery(f)
					fileHookCalled = true
				}
				delivered = append(delivered, f)
			}

			if o.ForceTurnBreak {
				forceBreak = true
			}

			messages = append(messages, toolResultMessage(o))
		}

		if e.costCapUSD.IsPositive() && totalCost.GreaterThanOrEqual(e.costCapUSD) {
			return Result{
				FinalMessage:   assistantMsg,
				StopReason:     StopCostCap,
				Iterations:     iter + 1,
				TotalCostUSD:   totalCost,
				DeliveredFiles: delivered,
				ToolAudits:     audits,
			}, nil
		}

		if forceBreak {
			return Result{
				FinalMessage:   assistantMsg,
				StopReason:     StopEndTurn,
				Iterations:     iter + 1,
				TotalCostUSD:   totalCost,
				DeliveredFiles: delivered,
				ToolAudits:     audits,
			}, nil
		}
	}

	return Result{
		StopReason:     StopMaxToken,
		Iterations:     e.maxIterations,
		TotalCostUSD:   totalCost,
		DeliveredFiles: delivered,
		ToolAudits:     audits,
	}, nil
}

// dispatchTools implements spec §4.7.3 steps 1-2: balance pre-check for paid
// tools, then parallel execution of every pending tool call.
func (e *Executor) dispatchTools(ctx context.Context, userID int64, calls []llm.ToolCall) []ToolOutcome {
	balance, err := e.ledger.GetBalance(ctx, userID)
	balanceKnown := err == nil
	if err != nil {
		slog.Warn("toolloop.balance_precheck_failed", "user_id", userID, "error", err)
	}

	outcomes := make([]ToolOutcome, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(i int, tc llm.ToolCall) {
			defer wg.Done()
			outcomes[i] = e.executeOne(ctx, tc, balanceKnown, balance)
		}(i, tc)
	}
	wg.Wait()
	return outcomes
}

func (e *Executor) executeOne(ctx context.Context, tc llm.ToolCall, balanceKnown bool, balance decimal.Decimal) ToolOutcome {
	outcome := ToolOutcome{ToolCallID: tc.ID, ToolName: tc.Name}

	tool, ok := e.registry.Get(tc.Name)
	if !ok {
		outcome.Err = fmt.Errorf("unknown tool %q", tc.Name)
		outcome.Content = []llm.ContentBlock{llm.NewTextBlock(fmt.Sprintf("Error: unknown tool %q", tc.Name))}
		return outcome
	}

	// Only a strictly negative balance blocks a paid tool (spec §4.7.3 step 1:
	// "if the balance is strictly negative, reject"); a balance of exactly
	// zero, or an unknown balance, still allows the call.
	if priced, ok := tool.(PricedTool); ok && priced.IsPaid() && balanceKnown && balance.Sign() < 0 {
		outcome.Err = fmt.Errorf("insufficient_balance")
		payload, _ := json.Marshal(insufficientBalanceResult{
			Error:      "insufficient_balance",
			Message:    fmt.Sprintf("insufficient balance to run %q", tc.Name),
			BalanceUSD: balance.String(),
			ToolName:   tc.Name,
		})
		outcome.Content = []llm.ContentBlock{llm.NewTextBlock(string(payload))}
		return outcome
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		outcome.Err = err
		outcome.Content = []llm.ContentBlock{llm.NewTextBlock(fmt.Sprintf("Error: failed to parse tool arguments: %v", err))}
		return outcome
	}

	res, err := tool.Execute(ctx, args)
	if err != nil {
		outcome.Err = err
		outcome.Content = []llm.ContentBlock{llm.NewTextBlock(fmt.Sprintf("Error: tool execution failed: %v", err))}
		return outcome
	}

	outcome.Content = convertBlocks(res.Content)
	applyDetails(&outcome, res.Details)
	return outcome
}

func toolResultMessage(o ToolOutcome) llm.Message {
	return llm.Message{
		Role:       "tool",
		ToolCallID: o.ToolCallID,
		ToolName:   o.ToolName,
		Content:    o.Content,
	}
}
