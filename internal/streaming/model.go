// Package streaming coalesces incremental LLM output (thinking/text deltas,
// tool markers, delivered files) into throttled draft-message edits on the
// origin channel, splitting into multiple message parts when the platform's
// character limit is exceeded.
package streaming

import (
	"context"
	"time"

	"genesis/internal/toolloop"
)

// Mode selects the markup dialect a draft is rendered in. Each platform
// channel picks the mode matching its send/edit API.
type Mode string

const (
	ModeMarkdown Mode = "markdown"
	ModeHTML     Mode = "html"
)

// Safety margins subtracted from the platform limit before a draft is
// considered "full". Markdown carries a larger margin than HTML to absorb
// the repair pass potentially re-adding closing markers.
const (
	htmlSafetyMargin     = 50
	markdownSafetyMargin = 200
)

// DefaultMinEditInterval is the minimum spacing between draft edits so a
// fast-streaming model doesn't trip the platform's edit rate limit.
const DefaultMinEditInterval = 1200 * time.Millisecond

// DraftEditor is the platform-side half of a draft: opening a new
// in-progress message, editing it in place, and delivering a file outside
// the draft. Implemented per channel (see pkg/channels/telegram).
type DraftEditor interface {
	// OpenDraft sends a new empty (or placeholder) message and returns an
	// identifier the editor can later target with EditDraft.
	OpenDraft(ctx context.Context) (string, error)

	// EditDraft replaces the visible content of an open draft.
	EditDraft(ctx context.Context, draftID, text string) error

	// SendFile delivers a tool-produced artifact as its own message.
	SendFile(ctx context.Context, file toolloop.DeliveredFile) error
}
