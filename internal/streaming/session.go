package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"genesis/internal/toolloop"
)

// Session owns one in-progress draft message for a single tool-loop turn.
// All methods are safe for concurrent use; tool results arrive on separate
// goroutines (see toolloop.Executor's parallel dispatch) while text deltas
// arrive on the streaming goroutine.
type Session struct {
	mu          sync.Mutex
	editor      DraftEditor
	mode        Mode
	limit       int
	minInterval time.Duration

	draftID   string
	draftOpen bool

	thinking string
	text     string

	lastSentText string
	lastEditAt   time.Time
}

// NewSession opens no draft yet; the first delta lazily opens one.
func NewSession(editor DraftEditor, mode Mode, limit int, minInterval time.Duration) *Session {
	if minInterval <= 0 {
		minInterval = DefaultMinEditInterval
	}
	return &Session{editor: editor, mode: mode, limit: limit, minInterval: minInterval}
}

// ThinkingDelta appends to the current thinking block and pushes a
// throttled draft update.
func (s *Session) ThinkingDelta(ctx context.Context, delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thinking += delta
	return s.flush(ctx, false)
}

// TextDelta appends to the current text block. If the thinking block ends
// with a tool marker ("]"), a blank line is inserted first for visual
// separation from the upcoming text.
func (s *Session) TextDelta(ctx context.Context, delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.text == "" && strings.HasSuffix(strings.TrimRight(s.thinking, "\n"), "]") {
		s.text += "\n"
	}
	s.text += delta
	return s.flush(ctx, false)
}

// ToolMarker finalizes the currently open block and appends a one-line
// marker (e.g. "[🔧 execute_python]") to the visible text.
func (s *Session) ToolMarker(ctx context.Context, marker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.text != "" && !strings.HasSuffix(s.text, "\n") {
		s.text += "\n"
	}
	s.text += marker + "\n"
	return s.flush(ctx, false)
}

// Finalize forces an immediate, unthrottled flush of whatever remains,
// closing out the draft as the turn's last message part.
func (s *Session) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush(ctx, true)
}

// HandleFileDelivery implements the commit-before-files rule: commit the
// current text (thinking discarded) as a finalized part, send the file,
// then open a fresh draft for any text that streams afterward. It matches
// the onFileDelivery hook signature toolloop.Executor calls synchronously
// from Run once a batch's tools have finished, so errors are logged rather
// than returned.
func (s *Session) HandleFileDelivery(file toolloop.DeliveredFile) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.commitLocked(ctx); err != nil {
		slog.Error("commit draft before file delivery failed", "error", err)
	}

	if err := s.editor.SendFile(ctx, file); err != nil {
		slog.Error("file delivery failed", "filename", file.Filename, "error", err)
	}

	id, err := s.editor.OpenDraft(ctx)
	if err != nil {
		slog.Error("reopen draft after file delivery failed", "error", err)
		s.draftOpen = false
		return
	}
	s.draftID = id
	s.draftOpen = true
	s.thinking = ""
	s.text = ""
	s.lastSentText = ""
	s.lastEditAt = time.Time{}
}

// commitLocked finalizes the current text (thinking discarded, tool markers
// stripped) into the open draft. Caller must hold s.mu.
func (s *Session) commitLocked(ctx context.Context) error {
	if s.text == "" && s.thinking == "" {
		return nil
	}
	if err := s.ensureOpenLocked(ctx); err != nil {
		return err
	}
	finalized := repairMarkup(render(s.mode, "", stripToolMarkers(s.text)), s.mode)
	return s.editor.EditDraft(ctx, s.draftID, finalized)
}

func (s *Session) ensureOpenLocked(ctx context.Context) error {
	if s.draftOpen {
		return nil
	}
	id, err := s.editor.OpenDraft(ctx)
	if err != nil {
		return fmt.Errorf("open draft: %w", err)
	}
	s.draftID = id
	s.draftOpen = true
	return nil
}

// flush applies truncation and, if the draft still overflows once thinking
// is exhausted, splits it into a finalized part plus a fresh draft holding
// the remainder. Caller must hold s.mu.
func (s *Session) flush(ctx context.Context, force bool) error {
	if err := s.ensureOpenLocked(ctx); err != nil {
		return err
	}

	s.thinking = fitThinking(s.mode, s.thinking, s.text, s.limit)

	budget := s.limit - marginFor(s.mode)
	if s.thinking == "" && len([]rune(s.text)) > budget {
		return s.split(ctx, budget)
	}

	rendered := repairMarkup(render(s.mode, s.thinking, s.text), s.mode)
	if rendered == s.lastSentText {
		return nil
	}
	if !force && time.Since(s.lastEditAt) < s.minInterval {
		return nil
	}

	if err := s.editor.EditDraft(ctx, s.draftID, rendered); err != nil {
		return fmt.Errorf("edit draft: %w", err)
	}
	s.lastSentText = rendered
	s.lastEditAt = time.Now()
	return nil
}

func (s *Session) split(ctx context.Context, budget int) error {
	committed, remainder := splitText(s.text, budget)

	finalized := repairMarkup(render(s.mode, "", stripToolMarkers(committed)), s.mode)
	if err := s.editor.EditDraft(ctx, s.draftID, finalized); err != nil {
		return fmt.Errorf("commit split draft: %w", err)
	}

	id, err := s.editor.OpenDraft(ctx)
	if err != nil {
		return fmt.Errorf("open draft after split: %w", err)
	}
	s.draftID = id
	s.draftOpen = true
	s.thinking = ""
	s.text = remainder
	s.lastSentText = ""
	s.lastEditAt = time.Time{}

	return s.flush(ctx, true)
}
