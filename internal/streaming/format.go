package streaming

import (
	"regexp"
	"strings"
)

var toolMarkerLineRe = regexp.MustCompile(`(?m)^\[[^\n\]]*\]\s*$\n?`)

// stripToolMarkers removes tool-marker lines (e.g. "[🔧 execute_python]")
// from a finalized message part; markers only make sense inline with the
// live draft they were posted during.
func stripToolMarkers(text string) string {
	return toolMarkerLineRe.ReplaceAllString(text, "")
}

// render combines the collapsed thinking block and the visible text block
// into one display string for the given mode. An empty thinking block is
// omitted entirely.
func render(mode Mode, thinking, text string) string {
	if thinking == "" {
		return text
	}
	switch mode {
	case ModeHTML:
		return "<blockquote expandable>" + escapeHTML(thinking) + "</blockquote>\n\n" + text
	default:
		return blockquoteMarkdown(thinking) + "\n\n" + text
	}
}

func blockquoteMarkdown(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func marginFor(mode Mode) int {
	if mode == ModeMarkdown {
		return markdownSafetyMargin
	}
	return htmlSafetyMargin
}

// trimThinkingPrefix drops the earliest `overflow` runes from thinking,
// then extends the cut to the next newline so the remaining block doesn't
// open mid-line. Keeps the most recent thinking, per the "trim from the
// start" rule.
func trimThinkingPrefix(thinking string, overflow int) string {
	runes := []rune(thinking)
	if overflow <= 0 {
		return thinking
	}
	if overflow > len(runes) {
		return ""
	}
	runes = runes[overflow:]
	s := string(runes)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 && idx < 200 {
		s = s[idx+1:]
	}
	return s
}

// fitThinking repeatedly trims thinking until the rendered (thinking, text)
// pair fits within limit-margin, or thinking is exhausted.
func fitThinking(mode Mode, thinking, text string, limit int) string {
	margin := marginFor(mode)
	budget := limit - margin

	for i := 0; i < 10000; i++ {
		rendered := render(mode, thinking, text)
		over := len([]rune(rendered)) - budget
		if over <= 0 || thinking == "" {
			break
		}
		thinking = trimThinkingPrefix(thinking, over)
	}
	return thinking
}

// splitText cuts text at or before limit runes, preferring a newline
// boundary within the last 200 runes so the break doesn't land mid-word.
func splitText(text string, limit int) (committed, remainder string) {
	runes := []rune(text)
	if len(runes) <= limit {
		return text, ""
	}
	cut := limit
	for i := cut; i > cut-200 && i > 0; i-- {
		if runes[i-1] == '\n' {
			cut = i
			break
		}
	}
	return string(runes[:cut]), string(runes[cut:])
}

// repairMarkup closes any markup run left open by a mid-token truncation.
func repairMarkup(s string, mode Mode) string {
	if mode == ModeHTML {
		return repairHTML(s)
	}
	return repairMarkdown(s)
}

var markdownTokens = []string{"```", "**", "__", "*", "_", "`"}

func repairMarkdown(s string) string {
	var stack []string
	i := 0
	for i < len(s) {
		matched := ""
		for _, tok := range markdownTokens {
			if strings.HasPrefix(s[i:], tok) {
				matched = tok
				break
			}
		}
		if matched != "" {
			if len(stack) > 0 && stack[len(stack)-1] == matched {
				stack = stack[:len(stack)-1]
			} else {
				stack = append(stack, matched)
			}
			i += len(matched)
			continue
		}
		i++
	}
	var closing strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		closing.WriteString(stack[i])
	}
	return s + closing.String()
}

var htmlTagRe = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9]*)[^>]*>`)

func repairHTML(s string) string {
	// A truncation can also land mid-tag (no closing '>' at all); drop it.
	if idx := strings.LastIndexByte(s, '<'); idx >= 0 && !strings.Contains(s[idx:], ">") {
		s = s[:idx]
	}

	var stack []string
	for _, m := range htmlTagRe.FindAllStringSubmatch(s, -1) {
		closing := m[1] == "/"
		name := strings.ToLower(m[2])
		if closing {
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i] == name {
					stack = append(stack[:i], stack[i+1:]...)
					break
				}
			}
			continue
		}
		stack = append(stack, name)
	}

	var closing strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		closing.WriteString("</")
		closing.WriteString(stack[i])
		closing.WriteString(">")
	}
	return s + closing.String()
}
