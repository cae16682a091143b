package streaming

import (
	"context"
	"strings"
	"testing"
	"time"

	"genesis/internal/toolloop"
)

type fakeEditor struct {
	opens       int
	edits       []string // history of EditDraft text for the currently open draft
	draftEdits  [][]string
	files       []toolloop.DeliveredFile
	openErr     error
	editErr     error
}

func (f *fakeEditor) OpenDraft(ctx context.Context) (string, error) {
	if f.openErr != nil {
		return "", f.openErr
	}
	f.opens++
	if len(f.edits) > 0 {
		f.draftEdits = append(f.draftEdits, f.edits)
	}
	f.edits = nil
	return "draft", nil
}

func (f *fakeEditor) EditDraft(ctx context.Context, draftID, text string) error {
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeEditor) SendFile(ctx context.Context, file toolloop.DeliveredFile) error {
	f.files = append(f.files, file)
	return nil
}

func TestTextDeltaRendersImmediatelyOnFirstFlush(t *testing.T) {
	ed := &fakeEditor{}
	s := NewSession(ed, ModeHTML, 4000, 0)

	if err := s.TextDelta(context.Background(), "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ed.opens != 1 {
		t.Fatalf("expected draft opened once, got %d", ed.opens)
	}
	if len(ed.edits) != 1 || ed.edits[0] != "hello" {
		t.Fatalf("edits = %+v", ed.edits)
	}
}

func TestThrottlingSkipsRapidEdits(t *testing.T) {
	ed := &fakeEditor{}
	s := NewSession(ed, ModeHTML, 4000, time.Hour)

	s.TextDelta(context.Background(), "a")
	s.TextDelta(context.Background(), "b")
	s.TextDelta(context.Background(), "c")

	if len(ed.edits) != 1 {
		t.Fatalf("expected throttling to collapse to 1 edit, got %d: %+v", len(ed.edits), ed.edits)
	}
}

func TestFinalizeBypassesThrottle(t *testing.T) {
	ed := &fakeEditor{}
	s := NewSession(ed, ModeHTML, 4000, time.Hour)

	s.TextDelta(context.Background(), "a")
	s.TextDelta(context.Background(), "ab")
	if err := s.Finalize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	last := ed.edits[len(ed.edits)-1]
	if last != "ab" {
		t.Errorf("final edit = %q, want %q", last, "ab")
	}
}

func TestTruncationTrimsThinkingBeforeText(t *testing.T) {
	ed := &fakeEditor{}
	s := NewSession(ed, ModeHTML, 100, time.Nanosecond)

	longThinking := strings.Repeat("x", 500)
	s.ThinkingDelta(context.Background(), longThinking)
	if err := s.TextDelta(context.Background(), "short answer"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	last := ed.edits[len(ed.edits)-1]
	if !strings.Contains(last, "short answer") {
		t.Errorf("text was truncated away: %q", last)
	}
	if strings.Contains(last, longThinking) {
		t.Errorf("thinking should have been trimmed")
	}
}

func TestSplitsWhenTextAloneExceedsLimit(t *testing.T) {
	ed := &fakeEditor{}
	s := NewSession(ed, ModeHTML, 100, 0)

	if err := s.TextDelta(context.Background(), strings.Repeat("y", 400)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ed.opens < 2 {
		t.Fatalf("expected a split to open a second draft, got %d opens", ed.opens)
	}
}

func TestHandleFileDeliveryCommitsAndReopens(t *testing.T) {
	ed := &fakeEditor{}
	s := NewSession(ed, ModeHTML, 4000, 0)
	s.TextDelta(context.Background(), "before the file")

	s.HandleFileDelivery(toolloop.DeliveredFile{Filename: "out.png", MimeType: "image/png"})

	if len(ed.files) != 1 || ed.files[0].Filename != "out.png" {
		t.Fatalf("files = %+v", ed.files)
	}
	if ed.opens < 2 {
		t.Fatalf("expected a new draft opened after file delivery, got %d opens", ed.opens)
	}

	s.TextDelta(context.Background(), "after the file")
	last := ed.edits[len(ed.edits)-1]
	if strings.Contains(last, "before the file") {
		t.Errorf("new draft should not carry over prior text: %q", last)
	}
}

func TestToolMarkerStrippedFromCommittedPart(t *testing.T) {
	ed := &fakeEditor{}
	s := NewSession(ed, ModeHTML, 4000, 0)
	s.TextDelta(context.Background(), "working on it")
	s.ToolMarker(context.Background(), "[🔧 execute_python]")

	s.HandleFileDelivery(toolloop.DeliveredFile{Filename: "r.txt"})

	committed := ed.draftEdits[0]
	last := committed[len(committed)-1]
	if strings.Contains(last, "execute_python") {
		t.Errorf("expected tool marker stripped from committed part, got %q", last)
	}
}
