package topicrouter

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ActiveThread is the subset of a persisted Thread row the router needs to
// make a gap-suppression and current-topic-context decision.
type ActiveThread struct {
	InternalID int64
	ThreadID   int64
	Title      string
	UpdatedAt  time.Time
}

// Store is the persistence-side collaborator: looking up the thread
// currently active in a topic, and the recent topics available to route to.
type Store interface {
	ActiveThread(ctx context.Context, chatID, userID, threadID int64) (*ActiveThread, error)
	RecentUserMessages(ctx context.Context, internalThreadID int64, limit int) ([]string, error)
	RecentTopics(ctx context.Context, chatID, userID, excludeThreadID int64, limit int) ([]TopicContext, error)
}

// Platform is the messaging-side collaborator: creating forum topics and
// sending the "moved to another topic" redirect notice.
type Platform interface {
	CreateTopic(ctx context.Context, chatID int64, name string) (threadID int64, err error)
	SendMessage(ctx context.Context, chatID, threadID int64, text string) error
}

// Config tunes the router's thresholds; all fields mirror spec §4.9/§6 keys.
type Config struct {
	Enabled             bool
	GapSuppressSeconds  int64 // TOPIC_SWITCH_MIN_GAP_MINUTES*60; below this gap, always passthrough
	TempNameMaxLength   int
	RecentTopicsLimit   int
	RecentMessagesLimit int
}

// Router orchestrates the stay/resume/new decision for one inbound message.
type Router struct {
	store      Store
	platform   Platform
	classifier Classifier
	cfg        Config
}

func New(store Store, platform Platform, classifier Classifier, cfg Config) *Router {
	return &Router{store: store, platform: platform, classifier: classifier, cfg: cfg}
}

// MaybeRoute decides where req's message belongs. Passthrough means: do
// nothing, handle the message in whatever topic/thread it already arrived
// in.
func (r *Router) MaybeRoute(ctx context.Context, req RouteRequest) (RouteResult, error) {
	if !r.cfg.Enabled || !req.IsForumPrivateChat {
		return passthrough, nil
	}

	if req.ThreadID == 0 {
		return r.routeFromGeneral(ctx, req)
	}
	return r.routeFromTopic(ctx, req)
}

func (r *Router) routeFromGeneral(ctx context.Context, req RouteRequest) (RouteResult, error) {
	topics, err := r.store.RecentTopics(ctx, req.ChatID, req.UserID, 0, r.cfg.RecentTopicsLimit)
	if err != nil {
		return RouteResult{}, fmt.Errorf("load recent topics: %w", err)
	}
	topics = labelTopics(topics)

	if len(topics) == 0 {
		title := truncate(req.Text, r.cfg.TempNameMaxLength)
		if title == "" {
			title = "New chat"
		}
		return r.createAndReturn(ctx, req.ChatID, title, true)
	}

	result, err := checkRelevance(ctx, r.classifier, req.Text, nil, topics)
	if err != nil {
		slog.Warn("topic relevance classification failed, staying in General", "error", err)
		return passthrough, nil
	}

	if result.Action == ActionResume {
		if target, ok := findTopicByLabel(topics, result.Topic); ok {
			return RouteResult{Action: ActionResume, OverrideThreadID: target.ThreadID}, nil
		}
	}

	title := result.Title
	if title == "" {
		title = truncate(req.Text, r.cfg.TempNameMaxLength)
	}
	if title == "" {
		title = "New chat"
	}
	return r.createAndReturn(ctx, req.ChatID, title, true)
}

func (r *Router) routeFromTopic(ctx context.Context, req RouteRequest) (RouteResult, error) {
	thread, err := r.store.ActiveThread(ctx, req.ChatID, req.UserID, req.ThreadID)
	if err != nil {
		return RouteResult{}, fmt.Errorf("load active thread: %w", err)
	}

	if thread != nil && !thread.UpdatedAt.IsZero() {
		gap := time.Since(thread.UpdatedAt)
		if gap < time.Duration(r.cfg.GapSuppressSeconds)*time.Second {
			return passthrough, nil
		}
	}

	if thread == nil {
		return passthrough, nil
	}

	recent, err := r.store.RecentUserMessages(ctx, thread.InternalID, r.cfg.RecentMessagesLimit)
	if err != nil {
		return RouteResult{}, fmt.Errorf("load current topic context: %w", err)
	}
	current := &TopicContext{ThreadID: thread.ThreadID, InternalID: thread.InternalID, Title: thread.Title, RecentUserMessages: recent}

	others, err := r.store.RecentTopics(ctx, req.ChatID, req.UserID, req.ThreadID, r.cfg.RecentTopicsLimit-1)
	if err != nil {
		return RouteResult{}, fmt.Errorf("load other topics: %w", err)
	}
	others = labelTopics(others)

	result, err := checkRelevance(ctx, r.classifier, req.Text, current, others)
	if err != nil {
		slog.Warn("topic relevance classification failed, staying in current topic", "error", err)
		return passthrough, nil
	}

	switch result.Action {
	case ActionStay:
		return passthrough, nil

	case ActionResume:
		target, ok := findTopicByLabel(others, result.Topic)
		if !ok {
			return passthrough, nil
		}
		r.redirectAsync(req.ChatID, req.ThreadID, target.Title)
		return RouteResult{Action: ActionResume, OverrideThreadID: target.ThreadID}, nil

	default: // "new"
		title := result.Title
		if title == "" {
			title = truncate(req.Text, r.cfg.TempNameMaxLength)
		}
		if title == "" {
			title = "New chat"
		}
		newThreadID, err := r.platform.CreateTopic(ctx, req.ChatID, title)
		if err != nil {
			slog.Error("create forum topic failed", "error", err)
			return passthrough, nil
		}
		r.redirectAsync(req.ChatID, req.ThreadID, title)
		return RouteResult{Action: ActionNew, OverrideThreadID: newThreadID, Title: title}, nil
	}
}

func (r *Router) createAndReturn(ctx context.Context, chatID int64, title string, needsNaming bool) (RouteResult, error) {
	threadID, err := r.platform.CreateTopic(ctx, chatID, title)
	if err != nil {
		slog.Error("create forum topic failed", "error", err)
		return passthrough, nil
	}
	return RouteResult{Action: ActionNew, OverrideThreadID: threadID, Title: title, NeedsTopicNaming: needsNaming}, nil
}

// redirectAsync posts the "moved to another topic" notice in the old topic
// without blocking the caller's routing decision on it, mirroring the
// original's asyncio.create_task fire-and-forget redirect.
func (r *Router) redirectAsync(chatID, oldThreadID int64, targetTitle string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.platform.SendMessage(ctx, chatID, oldThreadID, "↗️ "+targetTitle); err != nil {
			slog.Debug("topic redirect message failed", "error", err)
		}
	}()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
