package topicrouter

import (
	"context"
	"fmt"
	"strings"
)

// Classifier issues the single small-model JSON classification call. The
// prompt is fully built by this package; implementations only need to
// round-trip it through an LLM and return the parsed, strictly-typed result.
type Classifier interface {
	Classify(ctx context.Context, systemPrompt, userPrompt string) (ClassifierResult, error)
}

const relevanceSystemPrompt = `You route messages to the correct chat topic.

<rules>
- Analyze the new message and decide which topic it belongs to
- Consider semantic meaning, not just keywords
- A greeting or follow-up question usually continues the current topic
- A completely different subject needs a new topic or matches another one
- Output ONLY valid JSON, nothing else
</rules>`

// checkRelevance issues the classification call, or resolves trivially for
// an empty message (mirrors the original's empty-text fast path).
func checkRelevance(ctx context.Context, classifier Classifier, text string, current *TopicContext, others []TopicContext) (ClassifierResult, error) {
	if strings.TrimSpace(text) == "" {
		if current != nil {
			return ClassifierResult{Action: ActionStay}, nil
		}
		return ClassifierResult{Action: ActionNew, Title: "New chat"}, nil
	}

	prompt := buildRelevancePrompt(text, current, others)
	result, err := classifier.Classify(ctx, relevanceSystemPrompt, prompt)
	if err != nil {
		return ClassifierResult{}, fmt.Errorf("topic relevance classification: %w", err)
	}
	return result, nil
}

func buildRelevancePrompt(text string, current *TopicContext, others []TopicContext) string {
	var b strings.Builder

	if current != nil {
		fmt.Fprintf(&b, "Current topic: %q\n", current.Title)
		for _, m := range current.RecentUserMessages {
			fmt.Fprintf(&b, "  - %s\n", m)
		}
		b.WriteString("\n")
	}

	if len(others) > 0 {
		b.WriteString("Other recent topics:\n")
		for _, t := range others {
			fmt.Fprintf(&b, "[%s] %q\n", t.Label, t.Title)
			for _, m := range t.RecentUserMessages {
				fmt.Fprintf(&b, "  - %s\n", m)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "New message: %q\n\n", text)
	if current != nil {
		b.WriteString(`Respond with JSON: {"action":"stay"|"resume"|"new","topic":"<letter, if resume>","title":"<short title, if new>"}`)
	} else {
		b.WriteString(`Respond with JSON: {"action":"resume"|"new","topic":"<letter, if resume>","title":"<short title, if new>"}`)
	}
	return b.String()
}

// labelTopics assigns sequential A, B, C... labels to a topic list for
// inclusion in the classifier prompt.
func labelTopics(topics []TopicContext) []TopicContext {
	labeled := make([]TopicContext, len(topics))
	for i, t := range topics {
		t.Label = string(rune('A' + i%26))
		labeled[i] = t
	}
	return labeled
}

func findTopicByLabel(topics []TopicContext, label string) (TopicContext, bool) {
	for _, t := range topics {
		if t.Label == label {
			return t, true
		}
	}
	return TopicContext{}, false
}
