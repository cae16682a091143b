// Package normalize implements the C3 Normalizer component (spec §4.3):
// converting one inbound platform event into a ProcessedMessage with all
// external I/O (download, upload, transcription) already complete.
package normalize

import "time"

// ContentType classifies the primary payload of an inbound event.
type ContentType string

const (
	ContentText      ContentType = "text"
	ContentPhoto     ContentType = "photo"
	ContentDocument  ContentType = "document"
	ContentVoice     ContentType = "voice"
	ContentAudio     ContentType = "audio"
	ContentVideo     ContentType = "video"
	ContentVideoNote ContentType = "video_note"
)

// RawFile is a not-yet-uploaded file attachment as received from the
// platform SDK: either already-downloaded Data, or enough identifying info
// for the normalizer to fetch it itself.
type RawFile struct {
	TelegramFileID       string
	TelegramFileUniqueID string
	Filename             string
	DeclaredMimeType     string
	Data                 []byte
}

// ReplyContext captures the reply/forward/quote descriptors the original
// spec asks the Normalizer to extract from the raw event.
type ReplyContext struct {
	IsReply          bool
	RepliedMessageID int64
	RepliedSnippet   string
	IsForward        bool
	ForwardOrigin    string
	IsQuote          bool
	QuoteText        string
}

// TranscriptInfo is the result of speech-to-text applied to voice/video-note
// media. transcription_charged is tracked separately on ProcessedMessage
// since the tool loop, not the normalizer, decides when to charge for it.
type TranscriptInfo struct {
	Text             string
	DurationSeconds  float64
	DetectedLanguage string
	CostUSD          float64
}

// UploadedFile is a file that has been pushed to the LLM files API and now
// carries an opaque handle for multimodal message construction.
type UploadedFile struct {
	ClaudeFileID string
	Filename     string
	MimeType     string
	FileSize     int
	ContentType  ContentType
}

// InboundEvent is the normalizer's input: one platform message, already
// stripped of channel-specific wire types but still carrying every field the
// normalizer needs to extract reply/forward/quote context.
type InboundEvent struct {
	ChatID       int64
	UserID       int64
	MessageID    int64
	ThreadID     int64 // Telegram forum topic id, 0 if none
	Text         string
	Caption      string
	ContentType  ContentType
	MediaGroupID string
	Files        []RawFile
	Reply        ReplyContext
	ReceivedAt   time.Time
}

// ProcessedMessage is the normalizer's sole output. Once constructed, all
// external I/O is finished; the invariant the batcher in internal/pipeline
// relies on.
type ProcessedMessage struct {
	ChatID           int64
	UserID           int64
	MessageID        int64
	ThreadID         int64
	Text             string
	MediaGroupID     string
	Files            []UploadedFile
	Transcript       *TranscriptInfo
	Reply            ReplyContext
	TranscriptCharged bool
	ReceivedAt       time.Time

	HasMedia     bool
	HasFiles     bool
	HasTranscript bool
}
