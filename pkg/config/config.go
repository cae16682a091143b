package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

// Config defines the global application configuration structure.
// This structure maps directly to the config.json file and holds
// business-level settings like channel API keys and LLM provider choices.
type Config struct {
	// Channels contains a map of channel identifiers (e.g., "telegram", "web")
	// to their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// LLM holds the configuration for the primary LLM provider in raw JSON.
	LLM jsoniter.RawMessage `json:"llm"`
	// SystemPrompt is the global persona/instruction string sent to the AI
	// as the initial system message in every conversation.
	SystemPrompt string `json:"system_prompt"`
}

// DeepCopy creates a shallow copy of Config.
// Since Channels is a map, we need to clone the map itself.
func (c *Config) DeepCopy() *Config {
	newCfg := *c
	if c.Channels != nil {
		newCfg.Channels = make(map[string]jsoniter.RawMessage)
		for k, v := range c.Channels {
			newCfg.Channels[k] = v
		}
	}
	return &newCfg
}

// Validate ensures the configuration structure contains all mandatory fields.
// It acts as a primary guard before the system proceeds to initialization.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	return nil
}

// SystemConfig defines engine-level technical parameters.
// These settings are usually stored in system.json and control the
// performance, reliability, and technical behavior of the Genesis engine.
type SystemConfig struct {
	// MaxRetries is the number of times the system will attempt to
	// recover from a transient LLM or network error before giving up.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the duration to wait (in milliseconds) between
	// consecutive retry attempts.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs is the hard cutoff time (in milliseconds) for an
	// LLM request. The context will be cancelled if exceeded.
	// No code reads this field, so setting it has no effect.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// OllamaDefaultURL is the fallback endpoint used when connecting
	// to a local Ollama instance if no specific URL is provided.
	// No code reads this field, so setting it has no effect.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// InternalChannelBuffer defines the size of the internal Go channels
	// used for buffering stream chunks to prevent production blocking.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// ThinkingInitDelayMs is the time to wait (in milliseconds) after a
	// user message before showing the "AI is thinking" status in the UI.
	// No code reads this field, so setting it has no effect.
	ThinkingInitDelayMs int `json:"thinking_init_delay_ms"`
	// TelegramMessageLimit is the maximum character count for a single
	// Telegram message. Longer responses will be split into multiple chunks.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// DownloadTimeoutMs is the timeout (in milliseconds) applied when
	// fetching external media or files (e.g., from Telegram servers).
	DownloadTimeoutMs int `json:"download_timeout_ms"`
	// ShowThinking determines whether the AI's internal reasoning process (thinking blocks)
	// should be streamed and displayed to the end user.
	// No code reads this field, so setting it has no effect.
	ShowThinking bool `json:"show_thinking"`
	// DebugChunks enables saving every raw LLM response chunk to the /debug
	// folder for inspection and troubleshooting purposes.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	// No code reads this field, so setting it has no effect.
	LogLevel string `json:"log_level"`
	// EnableTools globally toggles the tool calling (agentic) functionality.
	// If false, the AI will not be provided with any external tools/capabilities.
	// No code reads this field, so setting it has no effect.
	EnableTools bool `json:"enable_tools"`
	// HistorySummarizeThreshold is the number of messages after which summarization is triggered.
	// No code reads this field, so setting it has no effect.
	HistorySummarizeThreshold int `json:"history_summarize_threshold"`
	// HistoryKeepRecentCount is the number of messages to keep in history after summarization.
	// No code reads this field, so setting it has no effect.
	HistoryKeepRecentCount int `json:"history_keep_recent_count"`
	// HistoryMaxChars is the character limit for the conversation history before triggering summarization.
	// No code reads this field, so setting it has no effect.
	HistoryMaxChars int `json:"history_max_chars"`
	// HistoryMaxTokens is the token limit for the conversation history before triggering summarization.
	// This uses the actual usage reported by the LLM.
	// No code reads this field, so setting it has no effect.
	HistoryMaxTokens int `json:"history_max_tokens"`

	// MaxContinuations caps how many times the tool loop will re-prompt the
	// model after a length-truncated response before giving up.
	// No code reads this field, so setting it has no effect.
	MaxContinuations int `json:"max_continuations"`
	// MaxToolLoopIterations caps the number of tool-call round trips within a
	// single turn, independent of the cost cap.
	MaxToolLoopIterations int `json:"max_tool_loop_iterations"`
	// CostCapUSDPerTurn stops the tool loop once accumulated spend for a
	// single turn reaches this amount, even mid-iteration.
	CostCapUSDPerTurn float64 `json:"cost_cap_usd_per_turn"`

	// MaxConcurrentGenerationsPerUser bounds how many in-flight LLM requests
	// a single Telegram user may have outstanding at once.
	MaxConcurrentGenerationsPerUser int `json:"max_concurrent_generations_per_user"`
	// ConcurrencyQueueTimeoutSeconds is how long a request waits for a free
	// generation slot before it is rejected.
	ConcurrencyQueueTimeoutSeconds int `json:"concurrency_queue_timeout_seconds"`

	// TopicRoutingEnabled toggles automatic forum-topic classification for
	// incoming messages.
	// No code reads this field, so setting it has no effect.
	TopicRoutingEnabled bool `json:"topic_routing_enabled"`
	// TopicRoutingModel is the (usually small/cheap) model used to classify
	// a message into one of the chat's existing topics.
	// No code reads this field, so setting it has no effect.
	TopicRoutingModel string `json:"topic_routing_model"`
	// TopicRoutingGapSuppressSeconds suppresses re-routing within this many
	// seconds of the last message in a topic, to avoid topic-hopping chatter.
	// No code reads this field, so setting it has no effect.
	TopicRoutingGapSuppressSeconds int `json:"topic_routing_gap_suppress_seconds"`

	// MinimumBalanceForRequest is the balance (in USD) a user must have
	// before a new generation is accepted.
	MinimumBalanceForRequest string `json:"minimum_balance_for_request"`
	// ToolCostPrecheckEnabled toggles the balance check the executor runs
	// before dispatching a paid tool call.
	// No code reads this field, so setting it has no effect.
	ToolCostPrecheckEnabled bool `json:"tool_cost_precheck_enabled"`
	// StarsToUSDRate converts Telegram Stars to USD for ledger top-ups.
	StarsToUSDRate float64 `json:"stars_to_usd_rate"`
	// TelegramWithdrawalFee is the fraction Telegram deducts from Stars
	// withdrawals.
	TelegramWithdrawalFee float64 `json:"telegram_withdrawal_fee"`
	// TelegramTopicsFee is the fraction Telegram deducts on forum-topic
	// payments, where applicable.
	TelegramTopicsFee float64 `json:"telegram_topics_fee"`
	// DefaultOwnerMargin is the owner's default commission fraction applied
	// on top of raw provider cost when charging a user.
	DefaultOwnerMargin float64 `json:"default_owner_margin"`
	// RefundPeriodDays is how long a Stars purchase remains eligible for
	// refund via Telegram's payment API.
	RefundPeriodDays int `json:"refund_period_days"`

	// FilesAPITTLHours is how long an uploaded file stays resolvable via the
	// Claude Files API tier before it must be re-uploaded.
	// No code reads this field, so setting it has no effect.
	FilesAPITTLHours int `json:"files_api_ttl_hours"`
	// ExecFileTTLSeconds is how long execute_python's generated files remain
	// available to deliver_file before expiring from the exec cache.
	// No code reads this field, so setting it has no effect.
	ExecFileTTLSeconds int `json:"exec_file_ttl_seconds"`
	// ExecFileMaxSizeBytes caps how large a single execute_python-generated
	// file may be before it is dropped instead of cached.
	// No code reads this field, so setting it has no effect.
	ExecFileMaxSizeBytes int64 `json:"exec_file_max_size_bytes"`

	// BaseDelaySeconds and MaxDelaySeconds bound the exponential backoff used
	// when retrying a transient LLM or network error.
	BaseDelaySeconds float64 `json:"base_delay_seconds"`
	MaxDelaySeconds  float64 `json:"max_delay_seconds"`

	// MediaGroupQuietPeriodMs is how long the bot waits after the last photo
	// in a Telegram media group before treating the group as complete.
	// No code reads this field, so setting it has no effect.
	MediaGroupQuietPeriodMs int `json:"media_group_quiet_period_ms"`
	// MediaGroupMaxWaitMs is the hard cap on how long a media group may be
	// held open regardless of quiet-period resets.
	// No code reads this field, so setting it has no effect.
	MediaGroupMaxWaitMs int `json:"media_group_max_wait_ms"`
	// BatchDebounceMs is how long rapid-fire text messages from the same
	// user are coalesced into a single generation request.
	// No code reads this field, so setting it has no effect.
	BatchDebounceMs int `json:"batch_debounce_ms"`
	// PendingNormalizationTimeoutMs bounds how long message normalization
	// (attachments, replies, forwards) may take before falling back to a
	// best-effort partial result.
	// No code reads this field, so setting it has no effect.
	PendingNormalizationTimeoutMs int `json:"pending_normalization_timeout_ms"`
}

// DeepCopy creates a full copy of SystemConfig.
func (s *SystemConfig) DeepCopy() *SystemConfig {
	newSys := *s
	return &newSys
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with hardcoded safe defaults.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:                3,
		RetryDelayMs:              500,
		LLMTimeoutMs:              600000,
		OllamaDefaultURL:          "http://localhost:11434/v1",
		InternalChannelBuffer:     100,
		ThinkingInitDelayMs:       500,
		TelegramMessageLimit:      4000,
		DownloadTimeoutMs:         10000,
		ShowThinking:              true,
		LogLevel:                  "info",
		EnableTools:               true,
		HistorySummarizeThreshold: 10,
		HistoryKeepRecentCount:    5,
		HistoryMaxChars:           10000,
		HistoryMaxTokens:          4000,

		MaxContinuations:      3,
		MaxToolLoopIterations: 25,
		CostCapUSDPerTurn:     2.0,

		MaxConcurrentGenerationsPerUser: 1,
		ConcurrencyQueueTimeoutSeconds:  30,

		TopicRoutingEnabled:            false,
		TopicRoutingModel:              "",
		TopicRoutingGapSuppressSeconds: 300,

		MinimumBalanceForRequest: "0.01",
		ToolCostPrecheckEnabled:  true,
		StarsToUSDRate:           0.015,
		TelegramWithdrawalFee:    0.30,
		TelegramTopicsFee:        0.0,
		DefaultOwnerMargin:       0.20,
		RefundPeriodDays:         21,

		FilesAPITTLHours:     48,
		ExecFileTTLSeconds:   1800,
		ExecFileMaxSizeBytes: 20 * 1024 * 1024,

		BaseDelaySeconds: 1.0,
		MaxDelaySeconds:  30.0,

		MediaGroupQuietPeriodMs:       1500,
		MediaGroupMaxWaitMs:           10000,
		BatchDebounceMs:               800,
		PendingNormalizationTimeoutMs: 5000,
	}
}

// Load reads and parses the JSON configuration files and returns configuration objects.
func Load() (*Config, *SystemConfig, error) {
	appPath := "config.json"
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	sysCfg := LoadSystemConfig("system.json")

	return &cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return cfg
	}

	return cfg
}
