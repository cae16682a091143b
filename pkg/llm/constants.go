package llm

// StopReason constants define normalized reasons for LLM generation termination.
// All providers must normalize their native stop reasons to these values.
const (
	StopReasonStop   = "stop"   // Normal completion
	StopReasonLength = "length" // Output truncated due to token limit
)

// ContentBlock Type constants define the supported content block formats
// used throughout the message pipeline.
const (
	BlockTypeText     = "text"     // Plain text content
	BlockTypeThinking = "thinking" // Internal reasoning/chain-of-thought
	BlockTypeImage    = "image"    // Binary image data
	BlockTypeError    = "error"    // Error message displayed to user
)

// DebugDirContextKey is the context key a caller sets to nest a stream's
// debug chunk log under a per-request subdirectory (e.g. the debug ID a
// channel assigns to one turn). Shares its string value with
// pkg/monitor.CustomHandler's "llm_debug_dir" lookup so callers can set it
// once and have it picked up by both the debugger and the logger.
const DebugDirContextKey = "llm_debug_dir"
