// Command genesis is the process entry point: it loads configuration, wires
// the ledger, file manager, tool registry and tool-loop executor into an
// internal/bot.Orchestrator, registers the configured channels, and starts
// the gateway. Grounded on the teacher's root main.go bootstrap sequence
// (config.Load -> monitor.SetupEnvironment -> gateway.NewGatewayBuilder),
// generalized from a single hardcoded provider/session pair to the full
// ledger-backed, tool-calling pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	jsoniter "github.com/json-iterator/go"

	"genesis/internal/bot"
	"genesis/internal/filemanager"
	"genesis/internal/ledger"
	"genesis/internal/llmadapt"
	"genesis/internal/payments"
	"genesis/internal/pipeline"
	"genesis/internal/streaming"
	"genesis/internal/threadstore"
	"genesis/internal/toolloop"
	"genesis/internal/tools"
	"genesis/pkg/api"
	"genesis/pkg/channels"
	"genesis/pkg/channels/telegram"
	_ "genesis/pkg/channels/web" // registers the "web" channel factory for channels.NewSource
	"genesis/pkg/config"
	"genesis/pkg/gateway"
	"genesis/pkg/llm"
	_ "genesis/pkg/llm/gemini"   // registers the gemini provider factory
	_ "genesis/pkg/llm/ollama"   // registers the ollama provider factory
	_ "genesis/pkg/llm/openailm" // registers the openai-compatible provider factory
	"genesis/pkg/monitor"
	toolregistry "genesis/pkg/tools"
)

func main() {
	if err := run(); err != nil {
		slog.Error("genesis.startup_failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, sysCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	mon := monitor.SetupEnvironment()

	pool, err := pgxpool.New(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr()})
	defer redisClient.Close()

	minBalance, err := decimal.NewFromString(sysCfg.MinimumBalanceForRequest)
	if err != nil {
		return fmt.Errorf("parse minimum_balance_for_request: %w", err)
	}

	ledgerCache := ledger.NewRedisCache(redisClient, 30*time.Second)
	ledgerSvc := ledger.New(pool, ledgerCache, minBalance)
	if err := ledgerSvc.Init(ctx); err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}

	userFiles := filemanager.NewPostgresUserFiles(pool)
	if err := userFiles.Init(ctx); err != nil {
		return fmt.Errorf("init user_files: %w", err)
	}

	threads := threadstore.New(pool)
	if err := threads.Init(ctx); err != nil {
		return fmt.Errorf("init threads: %w", err)
	}

	paymentsSvc := payments.NewService(pool, ledgerSvc, sysCfg.StarsToUSDRate, sysCfg.TelegramWithdrawalFee, sysCfg.TelegramTopicsFee, sysCfg.RefundPeriodDays)
	if err := paymentsSvc.Init(ctx); err != nil {
		return fmt.Errorf("init payments: %w", err)
	}

	llmClient, err := llm.NewFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		return fmt.Errorf("build llm client: %w", err)
	}

	sessions := llm.NewSessionManager("data/sessions")

	// channels.NewSource drives every configured channel through the same
	// registry-backed factory lookup telegram.TelegramFactory registers itself
	// into at init() time, rather than hardcoding one platform here.
	chs := channels.NewSource(cfg.Channels, sessions, sysCfg).Load()

	var tgChannel *telegram.TelegramChannel
	var tgDownloader *telegram.FileDownloader
	var draftFactory bot.DraftEditorFactory
	for _, ch := range chs {
		tc, ok := ch.(*telegram.TelegramChannel)
		if !ok {
			continue
		}
		tgChannel = tc
		draftFactory = telegramDraftEditorFactory(tgChannel)
		token, err := telegramToken(cfg)
		if err != nil {
			return err
		}
		tgDownloader = telegram.NewFileDownloader(tc.Bot(), token, &http.Client{Timeout: time.Duration(sysCfg.DownloadTimeoutMs) * time.Millisecond})
		tc.SetPayments(paymentsSvc, sysCfg.DefaultOwnerMargin)
		tc.SetLedger(ledgerSvc)
		break
	}

	execCache := filemanager.NewRedisExecCache(redisClient)
	byteCache := filemanager.NewRedisByteCache(redisClient)
	var filesAPI filemanager.FilesAPIDownloader
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		filesAPI = filemanager.NewAnthropicFilesAPIDownloader(key, nil, time.Duration(sysCfg.BaseDelaySeconds*float64(time.Second)), time.Duration(sysCfg.MaxDelaySeconds*float64(time.Second)), sysCfg.MaxRetries)
	}
	var telegramDL filemanager.TelegramDownloader
	if tgDownloader != nil {
		telegramDL = tgDownloader
	}
	fileManager := filemanager.New(execCache, userFiles, telegramDL, filesAPI, byteCache)

	registry := toolregistry.NewToolRegistry()
	registerTools(registry, fileManager, userFiles, redisClient, sysCfg, tgDownloader)

	executorCfg := toolloop.Config{
		MaxIterations: sysCfg.MaxToolLoopIterations,
		CostCapUSD:    decimal.NewFromFloat(sysCfg.CostCapUSDPerTurn),
	}
	streamManager := streaming.NewManager()
	executor := toolloop.New(llmClient, registry, ledgerSvc, executorCfg, nil)

	orchestrator := bot.New(executor, ledgerSvc, sessions, streamManager, draftFactory, bot.Config{
		SystemPrompt:        cfg.SystemPrompt,
		StreamMode:          streaming.ModeMarkdown,
		StreamCharLimit:     sysCfg.TelegramMessageLimit,
		StreamMinIntervalMs: int(streaming.DefaultMinEditInterval / time.Millisecond),
		BaseMessageCostUSD:  decimal.Zero,
	})
	orchestrator.SetToolRegistry(registry)
	orchestrator.SetThreadStore(threads)
	orchestrator.SetFileRecorder(userFiles)
	orchestrator.SetFileResolver(fileManager)
	orchestrator.SetConcurrencyControl(
		pipeline.NewConcurrencyLimiter(sysCfg.MaxConcurrentGenerationsPerUser, time.Duration(sysCfg.ConcurrencyQueueTimeoutSeconds)*time.Second),
		pipeline.NewGenerationTracker(),
	)

	builder := gateway.NewGatewayBuilder().
		WithSystemConfig(sysCfg).
		WithMonitor(mon).
		WithChannel(chs...).
		WithAgentEngine(orchestrator).
		WithHandler(orchestrator)

	gw, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}

	<-ctx.Done()
	slog.Info("genesis.shutdown_signal_received")
	gw.StopAll()
	return nil
}

// telegramToken re-parses the telegram channel's raw config for the bot
// token, which channels.Source's factory lookup keeps private to the
// telegram package once it builds the api.Channel.
func telegramToken(cfg *config.Config) (string, error) {
	raw, ok := cfg.Channels["telegram"]
	if !ok {
		return "", fmt.Errorf("telegram channel: missing config after successful load")
	}
	var tgCfg telegram.TelegramConfig
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(raw, &tgCfg); err != nil {
		return "", fmt.Errorf("parse telegram channel config: %w", err)
	}
	return tgCfg.Token, nil
}

// registerTools wires all ten tools from spec §6 into registry. Tools whose
// external dependency is unconfigured (no vision/image-gen API key, no
// SearXNG URL) are skipped rather than registered half-broken.
func registerTools(registry api.ToolRegistry, fm *filemanager.Manager, userFiles *filemanager.PostgresUserFiles, redisClient *redis.Client, sysCfg *config.SystemConfig, tgDownloader *telegram.FileDownloader) {
	execCache := filemanager.NewRedisExecCache(redisClient)

	registry.Register(tools.NewExecutePythonTool(execCache, "data/exec", "python3"))
	registry.Register(tools.NewDeliverFileTool(execCache))
	registry.Register(tools.NewRenderLatexTool("pdflatex", "dvipng"))
	registry.Register(tools.NewWebFetchTool())

	if searxng := os.Getenv("SEARXNG_URL"); searxng != "" {
		registry.Register(tools.NewWebSearchTool(searxng))
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		adapter, err := llmadapt.NewGeminiAdapter(context.Background(), key, visionModel(), imageGenModel())
		if err != nil {
			slog.Warn("genesis.gemini_adapter_unavailable", "error", err)
		} else {
			registry.Register(tools.NewAnalyzeImageTool(fm, adapter))
			registry.Register(tools.NewAnalyzePDFTool(fm, adapter))
			registry.Register(tools.NewPreviewFileTool(fm, adapter))
			registry.Register(tools.NewGenerateImageTool(fm, adapter))
		}
	}

	if baseURL := os.Getenv("TRANSCRIBE_BASE_URL"); baseURL != "" {
		registry.Register(tools.NewTranscribeAudioTool(fm, &http.Client{Timeout: 60 * time.Second}, baseURL, os.Getenv("TRANSCRIBE_API_KEY"), os.Getenv("TRANSCRIBE_MODEL"), transcribeCostPerMinute()))
	}
}

func telegramDraftEditorFactory(ch *telegram.TelegramChannel) bot.DraftEditorFactory {
	return func(session api.SessionContext) (streaming.DraftEditor, error) {
		chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("telegram draft editor: invalid chat id %q: %w", session.ChatID, err)
		}
		return telegram.NewDraftEditor(ch.Bot(), chatID, 0, streaming.ModeMarkdown), nil
	}
}

func redisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

func visionModel() string {
	if m := os.Getenv("GEMINI_VISION_MODEL"); m != "" {
		return m
	}
	return "gemini-2.0-flash"
}

func imageGenModel() string {
	if m := os.Getenv("GEMINI_IMAGE_MODEL"); m != "" {
		return m
	}
	return "gemini-2.0-flash-exp-image-generation"
}

func transcribeCostPerMinute() float64 {
	return 0.006
}
