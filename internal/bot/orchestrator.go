// Package bot wires the tool-loop executor, ledger, file manager, and
// streaming display into a single component satisfying pkg/api.AgentEngine
// and pkg/api.MessageProcessor/ResponderAware. It replaces pkg/agent's
// single-provider engine with one driven by internal/toolloop.Executor,
// grounded on pkg/agent/engine.go's HandleMessage/ProcessLLMStream flow but
// generalized from "one Telegram session" to "any channel, any thread".
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"genesis/internal/filemanager"
	"genesis/internal/ledger"
	"genesis/internal/pipeline"
	"genesis/internal/streaming"
	"genesis/internal/toolloop"
	"genesis/internal/topicrouter"
	"genesis/pkg/api"
	"genesis/pkg/llm"
)

// ThreadStore is the subset of internal/threadstore.Store the orchestrator
// needs to commit a turn (spec §4.7.5): ensuring the owning thread row
// exists, appending the user/assistant messages, and flushing the
// executor's queued ToolCall audit rows.
type ThreadStore interface {
	EnsureThread(ctx context.Context, chatID, userID, threadID int64, title string) (*topicrouter.ActiveThread, error)
	RecordMessage(ctx context.Context, threadInternalID, chatID, userID int64, role, content string) error
	RecordToolCallAudits(ctx context.Context, userID int64, threadInternalID int64, audits []toolloop.ToolCallAudit) error
}

// FileRecorder persists a tool-delivered file as a UserFile row (spec
// §4.7.5: delivered files must be durably recorded, not just streamed out).
type FileRecorder interface {
	Record(ctx context.Context, userID int64, uf filemanager.UserFile, ttl time.Duration) error
}

// FileResolver resolves a claude_file_id to bytes so a user-attached file
// can be embedded as a multimodal content block (spec §4.7.4: "image and
// document blocks reference claude_file_id").
type FileResolver interface {
	Get(ctx context.Context, fileID string, useCache bool) ([]byte, filemanager.Metadata, error)
}

// DraftEditorFactory builds a channel-specific streaming.DraftEditor for one
// session. The concrete factory (wrapping telegram.NewDraftEditor) is
// supplied by cmd/genesis/main.go so this package stays channel-agnostic.
type DraftEditorFactory func(session api.SessionContext) (streaming.DraftEditor, error)

// Config bundles the Orchestrator's tunables, sourced from config.SystemConfig.
type Config struct {
	SystemPrompt        string
	StreamMode          streaming.Mode
	StreamCharLimit     int
	StreamMinIntervalMs int
	BaseMessageCostUSD  decimal.Decimal
}

// Orchestrator is the C7-driving AgentEngine: one HandleMessage call loads
// history, runs the tool loop, streams the draft, charges the ledger, and
// persists the turn back to history.
type Orchestrator struct {
	executor     *toolloop.Executor
	ledgerSvc    *ledger.Ledger
	sessions     *llm.SessionManager
	streams      *streaming.Manager
	registry     api.ToolRegistry
	responder    api.MessageResponder
	draftEditors DraftEditorFactory
	cfg          Config

	threads      ThreadStore                  // nil until SetThreadStore is called
	fileRecorder FileRecorder                 // nil until SetFileRecorder is called
	files        FileResolver                 // nil until SetFileResolver is called
	concurrency  *pipeline.ConcurrencyLimiter // nil until SetConcurrencyControl is called
	generations  *pipeline.GenerationTracker  // nil until SetConcurrencyControl is called
}

// New builds an Orchestrator with no tool registry, deferring tool wiring to
// the caller the same way pkg/agent.AgentEngine's constructor did:
// SetToolRegistry supplies the registry, and RegisterTool registers into it,
// so RegisterTool needs SetToolRegistry to have been called first.
func New(executor *toolloop.Executor, ledgerSvc *ledger.Ledger, sessions *llm.SessionManager, streams *streaming.Manager, draftEditors DraftEditorFactory, cfg Config) *Orchestrator {
	return &Orchestrator{
		executor:     executor,
		ledgerSvc:    ledgerSvc,
		sessions:     sessions,
		streams:      streams,
		draftEditors: draftEditors,
		cfg:          cfg,
	}
}

// SetResponder implements api.AgentEngine (wired by GatewayBuilder via
// WithAgentEngine).
func (o *Orchestrator) SetResponder(responder api.MessageResponder) {
	o.responder = responder
}

// SetToolRegistry implements api.AgentEngine.
func (o *Orchestrator) SetToolRegistry(tr api.ToolRegistry) {
	o.registry = tr
}

// RegisterTool implements api.AgentEngine.
func (o *Orchestrator) RegisterTool(tools ...api.Tool) {
	for _, t := range tools {
		o.registry.Register(t)
	}
}

// SetThreadStore wires the Thread/Message/ToolCallAudit persistence layer
// (spec §4.7.5's commit step). Until called, HandleMessage still runs the
// tool loop but the turn is not durably committed beyond the JSON session
// file.
func (o *Orchestrator) SetThreadStore(ts ThreadStore) {
	o.threads = ts
}

// SetFileRecorder wires durable persistence of tool-delivered files.
func (o *Orchestrator) SetFileRecorder(fr FileRecorder) {
	o.fileRecorder = fr
}

// SetFileResolver wires claude_file_id -> bytes resolution for embedding
// user-attached files as multimodal content blocks.
func (o *Orchestrator) SetFileResolver(fr FileResolver) {
	o.files = fr
}

// SetConcurrencyControl wires the per-user ConcurrencyLimiter and
// GenerationTracker (spec §4.6): limiter caps concurrent generations per
// user and reports queue position; tracker cancels a stale in-flight
// generation when a new message arrives in the same conversation.
func (o *Orchestrator) SetConcurrencyControl(limiter *pipeline.ConcurrencyLimiter, generations *pipeline.GenerationTracker) {
	o.concurrency = limiter
	o.generations = generations
}

// OnMessage implements api.MessageProcessor, the entry point GatewayBuilder's
// WithHandler wires to every inbound UnifiedMessage. Each message is handled
// on its own goroutine so one slow turn never blocks the channel's update
// loop; per-user serialization is left to the channel/transport layer.
func (o *Orchestrator) OnMessage(msg *api.UnifiedMessage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		sessionKey := msg.Session.ChannelID + ":" + msg.Session.ChatID
		history, err := o.sessions.GetHistory(sessionKey)
		if err != nil {
			slog.Error("bot.history_load_failed", "session", sessionKey, "error", err)
			return
		}

		reply := o.HandleMessage(ctx, msg, history)
		if reply.Role == "" {
			return
		}

		if text := plainText(reply); text != "" && o.responder != nil {
			if err := o.responder.SendReply(msg.Session, text); err != nil {
				slog.Error("bot.send_reply_failed", "session", sessionKey, "error", err)
			}
		}
	}()
}

// HandleMessage implements api.AgentEngine: it is also called directly by
// OnMessage above, and is exposed separately so callers that already hold a
// loaded ChatHistory (e.g. a future batch/subagent caller) can skip the
// session-store round trip.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg *api.UnifiedMessage, history *llm.ChatHistory) llm.Message {
	userID, err := parseUserID(msg.Session.UserID)
	if err != nil {
		slog.Error("bot.invalid_user_id", "user_id", msg.Session.UserID, "error", err)
		return llm.Message{}
	}

	if _, err := o.ledgerSvc.EnsureUser(ctx, userID, msg.Session.Username); err != nil {
		slog.Error("bot.ensure_user_failed", "user_id", userID, "error", err)
		return llm.Message{}
	}

	canRequest, exists, err := o.ledgerSvc.CanRequest(ctx, userID)
	if err != nil {
		slog.Error("bot.balance_check_failed", "user_id", userID, "error", err)
	}
	if exists && !canRequest {
		history.Add(llm.NewUserMessage(msg.Content))
		refusal := llm.NewAssistantMessage("Your balance is too low to start a new request. Please top up to continue.")
		history.Add(refusal)
		return refusal
	}

	history.EnsureSystemMessage(o.cfg.SystemPrompt)
	history.Add(o.userMessageFromUnified(ctx, msg))

	sessionKey := msg.Session.ChannelID + ":" + msg.Session.ChatID
	sess, err := o.openStreamSession(ctx, sessionKey, msg.Session)
	if err != nil {
		slog.Warn("bot.stream_session_unavailable", "session", sessionKey, "error", err)
	}

	var tools []llm.Tool
	if !msg.NoTools && o.registry != nil {
		for _, t := range o.registry.GetAll() {
			tools = append(tools, t)
		}
	}

	chatID, cErr := parseUserID(msg.Session.ChatID)
	if cErr != nil {
		chatID = userID
	}

	// ConcurrencyLimiter caps how many generations this user runs at once
	// (spec §4.6); GenerationTracker cancels a still-streaming prior turn in
	// the same (chat, user, topic) conversation when a new message arrives.
	runCtx := ctx
	if o.concurrency != nil {
		slot, err := o.concurrency.Acquire(ctx, userID, msg.Session.ThreadID)
		if err != nil {
			slog.Warn("bot.concurrency_limit_timeout", "user_id", userID, "error", err)
			errMsg := llm.NewAssistantMessage("You have too many requests in flight right now. Please try again shortly.")
			history.Add(errMsg)
			return errMsg
		}
		defer slot.Release()
	}
	if o.generations != nil {
		var genCancel context.CancelFunc
		runCtx, genCancel = context.WithCancel(ctx)
		o.generations.Begin(chatID, userID, msg.Session.ThreadID, genCancel)
		defer o.generations.End(chatID, userID, msg.Session.ThreadID, genCancel)
		defer genCancel()
	}

	req := toolloop.Request{
		UserID:   userID,
		ChatID:   chatID,
		ThreadID: msg.Session.ThreadID,
		Messages: history.GetMessages(),
		Tools:    tools,
	}

	result, err := o.executor.Run(runCtx, req)
	if err != nil {
		slog.Error("bot.tool_loop_failed", "user_id", userID, "error", err)
		if sess != nil {
			_ = sess.Finalize(ctx)
			o.streams.End(sessionKey)
		}
		errMsg := llm.NewAssistantMessage(fmt.Sprintf("Something went wrong: %v", err))
		history.Add(errMsg)
		return errMsg
	}

	if sess != nil {
		if text := plainText(result.FinalMessage); text != "" {
			if derr := sess.TextDelta(ctx, text); derr != nil {
				slog.Warn("bot.stream_delta_failed", "session", sessionKey, "error", derr)
			}
		}
		if ferr := sess.Finalize(ctx); ferr != nil {
			slog.Warn("bot.stream_finalize_failed", "session", sessionKey, "error", ferr)
		}
		o.streams.End(sessionKey)
	}

	// toolloop.Executor already charged every paid tool call against the
	// ledger as it dispatched them; the base LLM inference cost for this
	// turn is not threaded back through toolloop.Result (no per-request
	// token usage crosses that boundary yet), so it is charged here as a
	// flat per-turn rate instead.
	if o.cfg.BaseMessageCostUSD.IsPositive() {
		desc := fmt.Sprintf("Base message cost (%s, %d iterations)", result.StopReason, result.Iterations)
		if _, err := o.ledgerSvc.Charge(ctx, userID, o.cfg.BaseMessageCostUSD, desc, nil); err != nil {
			slog.Warn("bot.base_cost_charge_failed", "user_id", userID, "error", err)
		}
	}

	history.Add(result.FinalMessage)
	if err := o.sessions.SaveSession(sessionKey); err != nil {
		slog.Warn("bot.session_save_failed", "session", sessionKey, "error", err)
	}

	o.commitTurn(ctx, msg, chatID, userID, result)

	return result.FinalMessage
}

// commitTurn is spec §4.7.5's commit step: the user/assistant messages and
// queued ToolCall audit rows are flushed to the Thread store and any
// tool-delivered files are recorded as UserFile rows. Both collaborators (the
// thread store and the file recorder) are optional - until their setters are called the turn is still driven
// correctly, it just isn't durably committed beyond the JSON session file.
func (o *Orchestrator) commitTurn(ctx context.Context, msg *api.UnifiedMessage, chatID, userID int64, result toolloop.Result) {
	var threadInternalID int64
	if o.threads != nil {
		thread, err := o.threads.EnsureThread(ctx, chatID, userID, msg.Session.ThreadID, "")
		if err != nil {
			slog.Warn("bot.ensure_thread_failed", "user_id", userID, "error", err)
		} else {
			threadInternalID = thread.InternalID
			if err := o.threads.RecordMessage(ctx, threadInternalID, chatID, userID, "user", msg.Content); err != nil {
				slog.Warn("bot.record_user_message_failed", "user_id", userID, "error", err)
			}
			if err := o.threads.RecordMessage(ctx, threadInternalID, chatID, userID, "assistant", plainText(result.FinalMessage)); err != nil {
				slog.Warn("bot.record_assistant_message_failed", "user_id", userID, "error", err)
			}
		}
		if len(result.ToolAudits) > 0 {
			if err := o.threads.RecordToolCallAudits(ctx, userID, threadInternalID, result.ToolAudits); err != nil {
				slog.Warn("bot.record_tool_audits_failed", "user_id", userID, "error", err)
			}
		}
	}

	if o.fileRecorder != nil {
		for _, f := range result.DeliveredFiles {
			uf := filemanager.UserFile{
				Filename: f.Filename,
				MimeType: f.MimeType,
				FileSize: len(f.Data),
				FileType: filemanager.FileTypeGenerated,
			}
			if err := o.fileRecorder.Record(ctx, userID, uf, 0); err != nil {
				slog.Warn("bot.record_delivered_file_failed", "user_id", userID, "filename", f.Filename, "error", err)
			}
		}
	}
}

func (o *Orchestrator) openStreamSession(ctx context.Context, key string, session api.SessionContext) (*streaming.Session, error) {
	if o.draftEditors == nil || o.streams == nil {
		return nil, nil
	}
	editor, err := o.draftEditors(session)
	if err != nil {
		return nil, err
	}
	limit := o.cfg.StreamCharLimit
	if limit <= 0 {
		limit = 4000
	}
	return o.streams.Start(key, editor, o.cfg.StreamMode, limit, o.cfg.StreamMinIntervalMs), nil
}

// userMessageFromUnified builds the user turn's content blocks. An
// attachment that only carries a ClaudeFileID (already uploaded by
// internal/normalize, no raw bytes in this UnifiedMessage) is resolved
// through the FileResolver so every provider - not just the ones with a
// native file-reference API - gets the same inline base64 block (spec
// §4.7.4).
func (o *Orchestrator) userMessageFromUnified(ctx context.Context, msg *api.UnifiedMessage) llm.Message {
	blocks := []llm.ContentBlock{}
	if msg.Content != "" {
		blocks = append(blocks, llm.NewTextBlock(msg.Content))
	}
	for _, f := range msg.Files {
		mimeType := nonEmptyOr(f.MimeType, "application/octet-stream")
		if len(f.Data) > 0 {
			blocks = append(blocks, llm.NewImageBlock(f.Data, mimeType))
			continue
		}
		if f.ClaudeFileID == "" || o.files == nil {
			continue
		}
		data, meta, err := o.files.Get(ctx, "file_"+f.ClaudeFileID, true)
		if err != nil {
			slog.Warn("bot.file_resolve_failed", "claude_file_id", f.ClaudeFileID, "error", err)
			continue
		}
		if meta.MimeType != "" {
			mimeType = meta.MimeType
		}
		blocks = append(blocks, llm.NewImageBlock(data, mimeType))
	}
	return llm.Message{Role: "user", Content: blocks}
}

func plainText(msg llm.Message) string {
	var out string
	for _, b := range msg.Content {
		if b.Type == llm.BlockTypeText {
			out += b.Text
		}
	}
	return out
}

func nonEmptyOr(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func parseUserID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
